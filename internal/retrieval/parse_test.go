package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentList(t *testing.T) {
	body := []byte(`{"code":200,"msg":"success","data":[
		{"c_wsbh":"WS001","c_sdbh":"SD9","c_wsmc":" 民事裁定书 ","c_wjgs":"PDF","wjlj":"https://files.test/a.pdf"},
		{"c_wsbh":"WS002","c_sdbh":"SD9","c_wsmc":"传票","c_wjgs":"pdf","wjlj":"https://files.test/b.pdf"},
		{"c_wsbh":"","c_sdbh":"SD9","c_wsmc":"no key"}
	]}`)
	docs, err := ParseDocumentList(body)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, Discovered{
		DocumentNumber: "WS001",
		DeliveryNumber: "SD9",
		Name:           "民事裁定书",
		FileURL:        "https://files.test/a.pdf",
		FileType:       "pdf",
	}, docs[0])
}

func TestParseDocumentListEdgeCases(t *testing.T) {
	docs, err := ParseDocumentList([]byte(`{"code":"200","data":null}`))
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = ParseDocumentList([]byte(`{"code":200,"data":[]}`))
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = ParseDocumentList([]byte(`{"code":401,"msg":"token expired"}`))
	assert.ErrorIs(t, err, ErrMalformedDocumentList)
	assert.Contains(t, err.Error(), "token expired")

	_, err = ParseDocumentList([]byte(`<html>`))
	assert.ErrorIs(t, err, ErrMalformedDocumentList)

	_, err = ParseDocumentList([]byte(`{"code":200,"data":{"c_wsbh":"x"}}`))
	assert.ErrorIs(t, err, ErrMalformedDocumentList)
}

func TestDedupeDiscoveredKeepsLastEntryPerKey(t *testing.T) {
	docs := []Discovered{
		{DocumentNumber: "WS1", DeliveryNumber: "SD1", FileURL: "https://files.test/old.pdf"},
		{DocumentNumber: "WS2", DeliveryNumber: "SD1", FileURL: "https://files.test/b.pdf"},
		{DocumentNumber: "WS1", DeliveryNumber: "SD2", FileURL: "https://files.test/other.pdf"},
		{DocumentNumber: "WS1", DeliveryNumber: "SD1", FileURL: "https://files.test/new.pdf"},
	}
	got := DedupeDiscovered(docs)
	require.Len(t, got, 3)
	assert.Equal(t, "WS1/SD1", got[0].Key())
	assert.Equal(t, "https://files.test/new.pdf", got[0].FileURL)
	assert.Equal(t, "WS2/SD1", got[1].Key())
	assert.Equal(t, "WS1/SD2", got[2].Key())
}
