package dispatch

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-udi/internal/protocol"
)

func encodeValidResponse(t *testing.T, reqType protocol.RequestType, body any) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	require.NoError(t, enc.Encode(protocol.RespValid))
	require.NoError(t, enc.Encode(reqType))
	require.NoError(t, enc.Encode(body))
	return buf.Bytes()
}

func TestSendRequestDecodesValidBody(t *testing.T) {
	resp := encodeValidResponse(t, protocol.ReqReadRegister, protocol.ReadRegisterResponse{Value: 42})

	var out bytes.Buffer
	in := bytes.NewReader(resp)

	body, err := SendRequest[protocol.ReadRegisterResponse](&out, in, protocol.ReadRegister{Reg: 3})
	require.NoError(t, err)
	require.Equal(t, uint64(42), body.Value)
	require.NotEmpty(t, out.Bytes())
}

func TestSendRequestRejectsEchoMismatch(t *testing.T) {
	resp := encodeValidResponse(t, protocol.ReqReadMemory, protocol.ReadRegisterResponse{Value: 1})

	var out bytes.Buffer
	in := bytes.NewReader(resp)

	_, err := SendRequest[protocol.ReadRegisterResponse](&out, in, protocol.ReadRegister{Reg: 0})
	require.ErrorIs(t, err, ErrEchoMismatch)
}

func TestSendRequestNoDataAcceptsAck(t *testing.T) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	require.NoError(t, enc.Encode(protocol.RespValid))
	require.NoError(t, enc.Encode(protocol.ReqThreadSuspend))

	var out bytes.Buffer
	err := SendRequestNoData(&out, bytes.NewReader(buf.Bytes()), protocol.NewThreadSuspend())
	require.NoError(t, err)
}

func TestSendRequestSurfacesResponseError(t *testing.T) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	require.NoError(t, enc.Encode(protocol.RespError))
	require.NoError(t, enc.Encode(protocol.ReqWriteRegister))
	require.NoError(t, enc.Encode(struct {
		Msg string `cbor:"msg"`
	}{Msg: "bad register"}))

	var out bytes.Buffer
	err := SendRequestNoData(&out, bytes.NewReader(buf.Bytes()), protocol.WriteRegister{Reg: 99, Value: 1})

	var respErr *protocol.ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "bad register", respErr.Message)
}
