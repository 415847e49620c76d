// Package journal appends trade outcomes to a JSONL file. It is audit output
// only and is never read back.
package journal

import (
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"launchpilot/internal/events"
)

type Record struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Stage   string    `json:"stage"`
	Token   string    `json:"token"`
	TxHash  string    `json:"tx_hash,omitempty"`
	Amount  string    `json:"amount,omitempty"`
	Success bool      `json:"success"`
	Skipped bool      `json:"skipped,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Journal is safe for concurrent use. A nil *Journal discards everything.
type Journal struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	now    func() time.Time
}

// Open returns a journal for path. "-" writes to stdout and "" disables it.
func Open(path string) (*Journal, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return New(os.Stdout), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	j := New(f)
	j.closer = f
	return j, nil
}

func New(w io.Writer) *Journal {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Journal{enc: enc, now: time.Now}
}

func (j *Journal) Write(rec Record) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = j.now().UTC()
	}
	return j.enc.Encode(rec)
}

func (j *Journal) Close() error {
	if j == nil || j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

// BuyRecord describes a finished buy. err is nil on success.
func BuyRecord(token common.Address, out *events.BuyOutcome, err error) Record {
	rec := Record{Stage: "buy", Token: token.Hex()}
	if out != nil {
		rec.TxHash = hashHex(out.TxHash)
		rec.Amount = amount(out.AmountBought)
		rec.Success = out.Success && err == nil
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func SellRecord(token common.Address, out *events.SellOutcome, err error) Record {
	rec := Record{Stage: "sell", Token: token.Hex()}
	if out != nil {
		rec.TxHash = hashHex(out.TxHash)
		rec.Amount = amount(out.AmountSold)
		rec.Skipped = out.Skipped
		rec.Success = err == nil && !out.Skipped
		if out.Skipped {
			rec.Error = out.Reason
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func hashHex(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func amount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
