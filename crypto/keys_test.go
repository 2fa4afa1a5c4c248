package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 20)
	addr := NewAddress(WRKPrefix, raw)

	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "wrk1"))

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, WRKPrefix, decoded.Prefix())
	require.Equal(t, raw, decoded.Bytes())

	fixed, err := DecodeAddressBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, fixed[:])
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	_, err := DecodeAddress("not-a-bech32-address")
	require.Error(t, err)

	// Valid bech32 but the wrong payload length.
	short := NewAddress(ZWRKPrefix, bytes.Repeat([]byte{0x01}, 20)).String()
	_, err = DecodeAddress(short[:len(short)-1])
	require.Error(t, err)
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	restored, err := PrivateKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), restored.Bytes())

	require.Equal(t, key.PubKey().Address().String(), restored.PubKey().Address().String())
}

func TestZwrkPrefixEncoding(t *testing.T) {
	raw := bytes.Repeat([]byte{0x07}, 20)
	addr := NewAddress(ZWRKPrefix, raw)
	require.True(t, strings.HasPrefix(addr.String(), "zwrk1"))

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, ZWRKPrefix, decoded.Prefix())
}
