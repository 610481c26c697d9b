package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) [][]string {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	return rows
}

func TestStreamCSV_Basic(t *testing.T) {
	in := "a,b,c\n1,2,3\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{})

	rows := collectRows(t, rowCh, errCh)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"1", "2", "3"}}, rows)
}

func TestStreamCSV_HeaderChannel(t *testing.T) {
	headerCh := make(chan []string, 1)
	in := "target,label\n0xabc,x\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows := collectRows(t, rowCh, errCh)
	assert.Equal(t, [][]string{{"0xabc", "x"}}, rows)
	assert.Equal(t, []string{"target", "label"}, <-headerCh)
}

func TestStreamCSV_DelimiterAndComments(t *testing.T) {
	in := "# comment\na|b\nc|d\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{
		Delimiter: '|',
		Comment:   '#',
	})

	rows := collectRows(t, rowCh, errCh)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, rows)
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	in := " a , b \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{TrimSpace: true})

	rows := collectRows(t, rowCh, errCh)
	assert.Equal(t, [][]string{{"a", "b"}}, rows)
}

func TestStreamCSV_Windows1252(t *testing.T) {
	// "café" with 0xE9 for the accented e.
	in := "caf\xe9,1\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{
		Encoding: "windows-1252",
	})

	rows := collectRows(t, rowCh, errCh)
	require.Len(t, rows, 1)
	assert.Equal(t, "café", rows[0][0])
}

func TestStreamCSV_UnknownEncoding(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,b\n"), CSVOptions{
		Encoding: "klingon-8",
	})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown encoding")
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\nc,d\n"), CSVOptions{})
	for range rowCh {
	}
	require.Error(t, <-errCh)
}
