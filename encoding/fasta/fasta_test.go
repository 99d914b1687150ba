package fasta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/seq"
)

const testFasta = `>seq1 Escherichia coli partial 16S
AGCU--AGCU
AGCU
>seq2
..AGCUAGCU..

>seq3 third
AGCU
`

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader(testFasta))

	require.True(t, r.Scan())
	c := r.Get()
	expect.EQ(t, c.Name(), "seq1")
	expect.EQ(t, c.AttrString(refstore.FnFullName), "Escherichia coli partial 16S")
	expect.EQ(t, c.Bases(), "AGCUAGCUAGCU")
	expect.EQ(t, c.Width(), uint32(14))

	require.True(t, r.Scan())
	c = r.Get()
	expect.EQ(t, c.Name(), "seq2")
	expect.EQ(t, c.Width(), uint32(12))
	expect.EQ(t, c.Size(), 8)

	require.True(t, r.Scan())
	expect.EQ(t, r.Get().Name(), "seq3")

	require.False(t, r.Scan())
	require.NoError(t, r.Err())
	expect.EQ(t, r.N(), int64(3))
}

func TestReaderBadInput(t *testing.T) {
	r := NewReader(strings.NewReader("AGCU\n"))
	require.False(t, r.Scan())
	require.Error(t, r.Err())
}

func TestReaderSkipsBadCharacters(t *testing.T) {
	// a sequence with a stray byte is dropped; the stream continues
	r := NewReader(strings.NewReader(">x\nAG!CU\n>y\nAGCU\n"))
	require.True(t, r.Scan())
	expect.EQ(t, r.Get().Name(), "y")
	require.False(t, r.Scan())
	require.NoError(t, r.Err())
	expect.EQ(t, r.NSkipped(), int64(1))
	expect.EQ(t, r.N(), int64(1))
}

func TestWriter(t *testing.T) {
	c, err := seq.NewCSeq("seq1", "--AGCUAGCU--")
	require.NoError(t, err)
	c.SetAttr(refstore.FnFullName, "a header")

	var buf bytes.Buffer
	w := NewWriter(&buf, WriterOpts{LineWidth: 4})
	require.NoError(t, w.Write(c))
	expect.EQ(t, buf.String(), ">seq1 a header\n..AG\nCUAG\nCU..\n")

	buf.Reset()
	w = NewWriter(&buf, WriterOpts{NoDots: true})
	require.NoError(t, w.Write(c))
	expect.EQ(t, buf.String(), ">seq1 a header\n--AGCUAGCU--\n")

	buf.Reset()
	w = NewWriter(&buf, WriterOpts{Unaligned: true})
	require.NoError(t, w.Write(c))
	expect.EQ(t, buf.String(), ">seq1 a header\nAGCUAGCU\n")
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WriterOpts{})
	orig, err := seq.NewCSeq("x", "..AG-CU..")
	require.NoError(t, err)
	require.NoError(t, w.Write(orig))

	r := NewReader(&buf)
	require.True(t, r.Scan())
	expect.EQ(t, r.Get().ABases(), orig.ABases())
	expect.EQ(t, r.Get().Width(), orig.Width())
}

func TestAttrTSVRoundTrip(t *testing.T) {
	rows := []AttrRow{
		{Name: "seq1", Acc: "X1", Version: "1", Start: 10, Stop: 1500, Tax: "A;B;C;"},
		{Name: "seq2", Acc: "X2", Version: "2", Start: 5, Stop: 900, Tax: "A;E;"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteAttrTSV(&buf, rows))

	got, err := ReadAttrTSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	expect.EQ(t, got["seq1"].Tax, "A;B;C;")
	expect.EQ(t, got["seq2"].Stop, 900)
}
