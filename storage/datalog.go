package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	boom "github.com/tylertreat/BoomFilters"
	json "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/btspider/bencode"
	"github.com/opd-ai/btspider/dht"
	"github.com/opd-ai/btspider/process"
)

const (
	// DefaultFilterCapacity is the number of info hashes the dedup filter is
	// sized for.
	DefaultFilterCapacity = 1_000_000
	// filterFalsePositiveRate is the target false positive rate at capacity.
	filterFalsePositiveRate = 0.001
	// dateLayout is appended to the configured path as ".YYYYMMDD".
	dateLayout = "20060102"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("data log closed")

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// DataLog appends metadata records as JSON lines to a date-suffixed file.
type DataLog struct {
	mu       sync.Mutex
	basePath string
	clock    process.TimeProvider
	filter   *boom.BloomFilter

	file    *os.File
	day     string
	records uint64
	closed  bool
}

// NewDataLog creates a data log writing under basePath. An empty basePath
// keeps dedup tracking but writes nothing. capacity sizes the Bloom filter;
// values <= 0 use DefaultFilterCapacity.
func NewDataLog(basePath string, capacity int, tp process.TimeProvider) (*DataLog, error) {
	if capacity <= 0 {
		capacity = DefaultFilterCapacity
	}
	if tp == nil {
		tp = process.RealTimeProvider{}
	}

	if basePath != "" {
		if err := os.MkdirAll(filepath.Dir(basePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	return &DataLog{
		basePath: basePath,
		clock:    tp,
		filter:   boom.NewBloomFilter(uint(capacity), filterFalsePositiveRate),
	}, nil
}

// Seen reports whether infoHash has been recorded.
func (l *DataLog) Seen(infoHash dht.NodeID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter.Test(infoHash[:])
}

// Record appends info as one JSON line, with an "info_hash" field holding
// the hex info hash ahead of the dictionary's own keys. A hash already
// recorded is skipped.
func (l *DataLog) Record(infoHash dht.NodeID, info *bencode.Dict) error {
	line, err := encodeRecord(infoHash, info)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.filter.TestAndAdd(infoHash[:]) {
		logrus.WithFields(logrus.Fields{
			"function":  "Record",
			"info_hash": hex.EncodeToString(infoHash[:]),
		}).Debug("Info hash already recorded")
		return nil
	}
	if l.basePath == "" {
		l.records++
		return nil
	}

	f, err := l.fileFor(l.clock.Now())
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	l.records++
	return nil
}

// fileFor returns the open file for the day of now, rotating if the day changed.
func (l *DataLog) fileFor(now time.Time) (*os.File, error) {
	day := now.Format(dateLayout)
	if l.file != nil && l.day == day {
		return l.file, nil
	}

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "fileFor",
				"path":     l.file.Name(),
				"error":    err.Error(),
			}).Warn("Failed to close previous data file")
		}
		l.file = nil
	}

	path := l.basePath + "." + day
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "fileFor",
		"path":     path,
	}).Info("Opened data file")

	l.file = f
	l.day = day
	return f, nil
}

// Path returns the file records are currently appended to.
func (l *DataLog) Path() string {
	if l.basePath == "" {
		return ""
	}
	return l.basePath + "." + l.clock.Now().Format(dateLayout)
}

// Records returns the number of records accepted since creation.
func (l *DataLog) Records() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records
}

// Close closes the current file. Further Record calls fail with ErrClosed.
func (l *DataLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// encodeRecord renders info as a single JSON object followed by a newline.
// Dictionary keys keep their bencoded order.
func encodeRecord(infoHash dht.NodeID, info *bencode.Dict) ([]byte, error) {
	stream := jsonAPI.BorrowStream(nil)
	defer jsonAPI.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField("info_hash")
	stream.WriteString(hex.EncodeToString(infoHash[:]))
	if info != nil {
		info.Range(func(key string, value interface{}) bool {
			stream.WriteMore()
			stream.WriteObjectField(key)
			writeValue(stream, value)
			return true
		})
	}
	stream.WriteObjectEnd()
	stream.WriteRaw("\n")

	if stream.Error != nil {
		return nil, stream.Error
	}
	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}

func writeValue(stream *json.Stream, v interface{}) {
	switch v := v.(type) {
	case string:
		stream.WriteString(v)
	case int64:
		stream.WriteInt64(v)
	case []interface{}:
		stream.WriteArrayStart()
		for i, item := range v {
			if i > 0 {
				stream.WriteMore()
			}
			writeValue(stream, item)
		}
		stream.WriteArrayEnd()
	case *bencode.Dict:
		stream.WriteObjectStart()
		first := true
		v.Range(func(key string, value interface{}) bool {
			if !first {
				stream.WriteMore()
			}
			first = false
			stream.WriteObjectField(key)
			writeValue(stream, value)
			return true
		})
		stream.WriteObjectEnd()
	default:
		stream.WriteVal(v)
	}
}
