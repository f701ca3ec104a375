package task

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const codecVersion = 1

var (
	ErrUnsupported = errors.New("unsupported task")
	ErrMalformed   = errors.New("malformed task payload")
)

// envelope tags the variant explicitly so decoding never guesses.
type envelope struct {
	Version uint8              `msgpack:"v"`
	Kind    Kind               `msgpack:"k"`
	Body    msgpack.RawMessage `msgpack:"b"`
}

func Encode(t Task) ([]byte, error) {
	var body []byte
	var err error
	switch v := t.(type) {
	case *Event:
		if v == nil {
			return nil, fmt.Errorf("%w: nil event", ErrUnsupported)
		}
		body, err = msgpack.Marshal(v)
	case *Poll:
		if v == nil {
			return nil, fmt.Errorf("%w: nil poll", ErrUnsupported)
		}
		body, err = msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, t)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.Kind(), err)
	}
	return msgpack.Marshal(&envelope{Version: codecVersion, Kind: t.Kind(), Body: body})
}

func Decode(data []byte) (Task, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("%w: version %d", ErrMalformed, env.Version)
	}

	var t Task
	switch env.Kind {
	case KindEvent:
		t = &Event{}
	case KindPoll:
		t = &Poll{}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrMalformed, env.Kind)
	}
	if err := msgpack.Unmarshal(env.Body, t); err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrMalformed, env.Kind, err)
	}
	return t, nil
}
