package shares

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func share(id, url, account string, offset int) Share {
	return Share{ID: id, ExpandedURL: url, AccountID: account, Date: base.Add(time.Duration(offset) * time.Second)}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		field string
	}{
		{"empty id", Table{{ExpandedURL: "u", AccountID: "a"}}, "id"},
		{"empty url", Table{{ID: "1", AccountID: "a"}}, "expanded_url"},
		{"empty account", Table{{ID: "1", ExpandedURL: "u"}}, "account_id"},
		{"duplicate id", Table{share("1", "u", "a", 0), share("1", "u", "b", 1)}, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			require.Error(t, err)
			assert.True(t, coreerrors.IsSchema(err))

			var e *coreerrors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Field)
		})
	}

	assert.NoError(t, Table{share("1", "u", "a", 0), share("2", "u", "b", 1)}.Validate())
}

func TestDatedDropsZeroTimestamps(t *testing.T) {
	table := Table{share("1", "u", "a", 0), {ID: "2", ExpandedURL: "u", AccountID: "b"}}
	out := table.Dated(quietLogger())
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)
	assert.Len(t, table, 2, "input must not be modified")
}

func TestOriginalOnly(t *testing.T) {
	a := share("1", "u", "a", 0)
	a.IsOrig = true
	out := Table{a, share("2", "u", "b", 1)}.OriginalOnly()
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)
}

type upper struct{}

func (upper) Canonicalize(raw string) (string, bool) {
	if raw == "drop" {
		return "", false
	}
	return strings.ToUpper(raw), true
}

func TestCanonicalizedCopies(t *testing.T) {
	table := Table{share("1", "u", "a", 0), share("2", "drop", "b", 1)}
	out := table.Canonicalized(upper{}, quietLogger())
	require.Len(t, out, 1)
	assert.Equal(t, "U", out[0].ExpandedURL)
	assert.Equal(t, "u", table[0].ExpandedURL)
}

func TestGroupByURLOrdering(t *testing.T) {
	table := Table{
		share("1", "b", "x", 10),
		share("2", "a", "x", 5),
		share("3", "b", "y", 1),
		share("4", "b", "z", 1),
	}
	groups := table.GroupByURL()
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].URL)
	assert.Equal(t, "b", groups[1].URL)
	assert.Equal(t, []int{2, 3, 0}, groups[1].Rows, "ties keep original row order")
	assert.Equal(t, 3, table.DistinctAccounts(groups[1].Rows))
}

func TestEngagement(t *testing.T) {
	e := Engagement{Likes: 1, Shares: 2, Comments: 3, Angrys: 4}
	assert.Equal(t, int64(10), e.Total())

	v, ok := e.Counter("comments")
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)

	_, ok = e.Counter("nope")
	assert.False(t, ok)

	assert.Equal(t, int64(20), e.Add(e).Total())
}

func TestReadCSV(t *testing.T) {
	data := `id,date,expanded,account_url,account_name,account_subscriberCount,account_verified,is_orig,statistics_actual_likeCount
1,2024-03-01 12:00:00,https://a.com/x,acc1,Alpha,100,True,true,5
2,not-a-date,https://a.com/x,acc2,Beta,200,False,false,1
3,2024-03-01T12:00:09Z,https://a.com/x,acc2,Beta,200,false,false,2
`
	table, err := ReadCSV(strings.NewReader(data), quietLogger())
	require.NoError(t, err)
	require.Len(t, table, 2)

	assert.Equal(t, "acc1", table[0].AccountID)
	assert.Equal(t, "https://a.com/x", table[0].ExpandedURL)
	assert.Equal(t, "Alpha", table[0].DisplayName)
	assert.Equal(t, 100.0, table[0].SubscriberCount)
	assert.True(t, table[0].Verified)
	assert.True(t, table[0].IsOrig)
	assert.Equal(t, int64(5), table[0].Engagement.Likes)
	assert.Equal(t, base, table[0].Date)
	assert.Equal(t, int64(9), table[1].Unix()-table[0].Unix())
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("id,date,expanded_url\n1,2024-03-01,u\n"), quietLogger())
	require.Error(t, err)
	assert.True(t, coreerrors.IsSchema(err))
}

func TestReadJSON(t *testing.T) {
	data := `[
		{"id": "1", "date": "2024-03-01 12:00:00", "expanded_url": "https://a.com", "account_id": "a", "subscriber_count": 10, "is_orig": true},
		{"id": 2, "date": 1709294401, "expanded_url": "https://a.com", "account_id": "b"}
	]`
	table, err := ReadJSON(strings.NewReader(data), quietLogger())
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, "2", table[1].ID)
	assert.Equal(t, 10.0, table[0].SubscriberCount)
	assert.True(t, table[0].IsOrig)
	assert.Equal(t, base.Add(time.Second), table[1].Date)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shares.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,date,expanded_url,account_id\n1,2024-03-01,u,a\n"), 0644))

	table, err := LoadFile(path, quietLogger())
	require.NoError(t, err)
	require.Len(t, table, 1)

	_, err = LoadFile(filepath.Join(dir, "missing.csv"), quietLogger())
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	_, err := ParseDate("")
	assert.Error(t, err)

	got, err := ParseDate("2024-03-01 12:00:00.750")
	require.NoError(t, err)
	assert.Equal(t, base, got, "sub-second precision is truncated")
}
