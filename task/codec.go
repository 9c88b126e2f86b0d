package task

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownKind is returned when a frame names a task kind this build does not know.
var ErrUnknownKind = errors.New("unknown task kind")

// envelope is the serialized form of a task: its kind and the
// msgpack-encoded variant.
type envelope struct {
	Kind    Kind               `msgpack:"kind"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Marshal serializes a task into a self-describing envelope.
func Marshal(t Task) ([]byte, error) {
	payload, err := msgpack.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal %s task: %w", t.Kind(), err)
	}
	return msgpack.Marshal(&envelope{Kind: t.Kind(), Payload: payload})
}

// Unmarshal restores a task serialized by Marshal.
func Unmarshal(data []byte) (Task, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal task envelope: %w", err)
	}

	t, err := newTask(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(env.Payload, t); err != nil {
		return nil, fmt.Errorf("unmarshal %s task: %w", env.Kind, err)
	}
	return t, nil
}

func newTask(kind Kind) (Task, error) {
	switch kind {
	case KindBootstrap:
		return &Bootstrap{}, nil
	case KindFindNode:
		return &FindNode{}, nil
	case KindGetPeers:
		return &GetPeers{}, nil
	case KindFetchMetadata:
		return &FetchMetadata{}, nil
	case KindResponse:
		return &Response{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}
