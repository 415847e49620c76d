package journal

import (
	"bufio"
	"bytes"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpilot/internal/events"
)

var token = common.HexToAddress("0x2222222222222222222222222222222222222222")

func decodeLines(t *testing.T, b []byte) []Record {
	t.Helper()
	var out []Record
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestWriteAssignsIDAndTime(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf)
	j.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, j.Write(BuyRecord(token, &events.BuyOutcome{
		Token:        token,
		TxHash:       common.HexToHash("0xabc"),
		AmountBought: big.NewInt(42),
		Success:      true,
	}, nil)))
	require.NoError(t, j.Write(SellRecord(token, nil, errors.New("sell reverted"))))

	recs := decodeLines(t, buf.Bytes())
	require.Len(t, recs, 2)
	assert.NotEmpty(t, recs[0].ID)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	assert.Equal(t, "buy", recs[0].Stage)
	assert.Equal(t, "42", recs[0].Amount)
	assert.True(t, recs[0].Success)
	assert.Equal(t, 2024, recs[0].Time.Year())

	assert.Equal(t, "sell", recs[1].Stage)
	assert.False(t, recs[1].Success)
	assert.Equal(t, "sell reverted", recs[1].Error)
	assert.Empty(t, recs[1].TxHash)
}

func TestSellRecordSkipped(t *testing.T) {
	rec := SellRecord(token, &events.SellOutcome{Token: token, Skipped: true, Reason: "nothing to sell"}, nil)
	assert.True(t, rec.Skipped)
	assert.False(t, rec.Success)
	assert.Equal(t, "nothing to sell", rec.Error)
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.jsonl")
	for i := 0; i < 2; i++ {
		j, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, j.Write(Record{Stage: "buy", Token: token.Hex()}))
		require.NoError(t, j.Close())
	}
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, b), 2)
}

func TestDisabledJournal(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.NoError(t, j.Write(Record{}))
	assert.NoError(t, j.Close())
}
