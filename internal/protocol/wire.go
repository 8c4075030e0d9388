package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"swapijob/internal/core/domain"
)

var (
	ErrUnknownKind = errors.New("protocol: unknown message type")
	ErrMalformed   = errors.New("protocol: malformed message")
)

// Envelope is the wire shape shared by every variant:
// { type, data?, message?, done?, total? }.
type Envelope struct {
	Type    Kind            `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Done    *int            `json:"done,omitempty"`
	Total   *Total          `json:"total,omitempty"`
}

type failedData struct {
	ID int `json:"id"`
}

// Encode converts a message into its wire envelope.
func Encode(msg Message) (Envelope, error) {
	env := Envelope{Type: msg.Kind()}
	var err error
	switch m := msg.(type) {
	case Started, AllSent, Done:
	case Process:
		env.Data, err = json.Marshal(m.Item)
		total := m.Total
		env.Total = &total
	case Result:
		env.Data, err = json.Marshal(m.Item)
	case Failed:
		env.Data, err = json.Marshal(failedData{ID: m.ID})
		env.Message = m.Reason
	case Progress:
		done, total := m.Done, m.Total
		env.Done = &done
		env.Total = &total
	case Log:
		env.Message = m.Text
		if m.Data != nil {
			env.Data, err = json.Marshal(m.Data)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return env, nil
}

// Decode converts a wire envelope back into its message variant.
func Decode(env Envelope) (Message, error) {
	switch env.Type {
	case KindStarted:
		return Started{}, nil
	case KindAllSent:
		return AllSent{}, nil
	case KindDone:
		return Done{}, nil
	case KindProcess:
		var item domain.Person
		if err := decodeData(env, &item); err != nil {
			return nil, err
		}
		msg := Process{Item: item}
		if env.Total != nil {
			msg.Total = *env.Total
		}
		return msg, nil
	case KindResult:
		var item domain.ProcessedPerson
		if err := decodeData(env, &item); err != nil {
			return nil, err
		}
		return Result{Item: item}, nil
	case KindFailed:
		var data failedData
		if err := decodeData(env, &data); err != nil {
			return nil, err
		}
		return Failed{ID: data.ID, Reason: env.Message}, nil
	case KindProgress:
		if env.Done == nil {
			return nil, fmt.Errorf("%w: progress without done count", ErrMalformed)
		}
		msg := Progress{Done: *env.Done}
		if env.Total != nil {
			msg.Total = *env.Total
		}
		return msg, nil
	case KindLog:
		msg := Log{Text: env.Message}
		if len(env.Data) > 0 {
			msg.Data = env.Data
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

// Marshal encodes msg straight to JSON.
func Marshal(msg Message) ([]byte, error) {
	env, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal decodes a JSON envelope into its message variant.
func Unmarshal(b []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Decode(env)
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
