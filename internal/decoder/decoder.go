// Package decoder turns factory logs into TokenCreated events.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"launchpilot/internal/events"
)

const factoryABI = `[{"type":"event","name":"TokenCreate","anonymous":false,"inputs":[
	{"name":"creator","type":"address","indexed":true},
	{"name":"token","type":"address","indexed":true},
	{"name":"name","type":"string","indexed":false},
	{"name":"symbol","type":"string","indexed":false}]}]`

// DecodeError is returned for logs that cannot be turned into a TokenCreated.
// It is always per-log and never fatal to the caller.
type DecodeError struct {
	Source events.LogRef
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode " + e.Source.String() + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Decoder struct {
	event abi.Event
	data  abi.Arguments
}

func New() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, err
	}
	event, ok := parsed.Events["TokenCreate"]
	if !ok {
		return nil, errors.New("TokenCreate event missing from ABI")
	}
	return &Decoder{event: event, data: event.Inputs.NonIndexed()}, nil
}

// Topic is the creation event signature hash used to filter subscriptions.
func (d *Decoder) Topic() common.Hash {
	return d.event.ID
}

func (d *Decoder) Decode(l types.Log) (ev events.TokenCreated, err error) {
	ref := Ref(l)
	// The ABI unpacker can panic on adversarial offsets; keep that per-log.
	defer func() {
		if r := recover(); r != nil {
			err = &DecodeError{Source: ref, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if len(l.Topics) != 3 {
		return ev, &DecodeError{Source: ref, Reason: fmt.Sprintf("want 3 topics, got %d", len(l.Topics))}
	}
	if l.Topics[0] != d.event.ID {
		return ev, &DecodeError{Source: ref, Reason: "topic is not TokenCreate"}
	}
	creator, err := topicAddress(l.Topics[1])
	if err != nil {
		return ev, &DecodeError{Source: ref, Reason: "creator topic", Err: err}
	}
	token, err := topicAddress(l.Topics[2])
	if err != nil {
		return ev, &DecodeError{Source: ref, Reason: "token topic", Err: err}
	}
	vals, err := d.data.Unpack(l.Data)
	if err != nil {
		return ev, &DecodeError{Source: ref, Reason: "data", Err: err}
	}
	if len(vals) != 2 {
		return ev, &DecodeError{Source: ref, Reason: fmt.Sprintf("want 2 data fields, got %d", len(vals))}
	}
	name, ok1 := vals[0].(string)
	symbol, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return ev, &DecodeError{Source: ref, Reason: "data fields are not strings"}
	}
	return events.TokenCreated{
		Creator: creator,
		Token:   token,
		Name:    name,
		Symbol:  symbol,
		Source:  ref,
	}, nil
}

// Encode is the inverse of Decode: it rebuilds the topics and data of the log.
func (d *Decoder) Encode(ev events.TokenCreated) ([]common.Hash, []byte, error) {
	data, err := d.data.Pack(ev.Name, ev.Symbol)
	if err != nil {
		return nil, nil, err
	}
	topics := []common.Hash{
		d.event.ID,
		common.BytesToHash(ev.Creator.Bytes()),
		common.BytesToHash(ev.Token.Bytes()),
	}
	return topics, data, nil
}

func Ref(l types.Log) events.LogRef {
	return events.LogRef{
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		Index:       l.Index,
	}
}

func topicAddress(h common.Hash) (common.Address, error) {
	if !bytes.Equal(h[:12], make([]byte, 12)) {
		return common.Address{}, fmt.Errorf("dirty high bytes in %s", h.Hex())
	}
	return common.BytesToAddress(h[12:]), nil
}
