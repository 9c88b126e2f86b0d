// Package storage persists harvested torrent metadata.
//
// A DataLog appends one JSON object per line to a file whose name carries the
// current date, so a new file is started every day:
//
//	log, err := storage.NewDataLog("storage/data/btspider.txt", storage.DefaultFilterCapacity, nil)
//	if err != nil {
//	    return err
//	}
//	defer log.Close()
//
//	if !log.Seen(infoHash) {
//	    err = log.Record(infoHash, info)
//	}
//
// Recorded info hashes are tracked in a Bloom filter. Seen may report a false
// positive at the configured rate; it never reports a false negative.
package storage
