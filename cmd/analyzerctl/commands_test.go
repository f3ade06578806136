package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unconfirmed data up, DevAddr 26011bda, FCnt 10, FPort 1
var dataUpPHY = []byte{
	0x40, 0xda, 0x1b, 0x01, 0x26, 0x00, 0x0a, 0x00, 0x01,
	0x01, 0x02, 0x03, 0x04, 0x05,
	0xa1, 0xa2, 0xa3, 0xa4,
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfgFile, decodeTopic, decodeFormat, decodeHex = "", "eu868/gateway/0000000000000000/event/up", "protobuf", false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTopicCommand(t *testing.T) {
	out, err := execute(t, "", "topic", "eu868/gateway/AA555A0000000101/event/up")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "gateway", got["layer"])
	assert.Equal(t, "up", got["kind"])
	assert.Equal(t, "aa555a0000000101", got["gatewayId"])
	assert.Equal(t, true, got["routable"])
}

func TestMatchCommand(t *testing.T) {
	cfg := writeFile(t, "config.yml", `
operators:
  - name: Acme
    prefix: ["26011", "E0000000/3"]
    priority: 2
`)

	out, err := execute(t, "", "match", "--config", cfg, "26011BDA")
	require.NoError(t, err)
	assert.Equal(t, "26011bda\tAcme\t(prefix 26011, priority 2, config)\n", out)

	out, err = execute(t, "", "match", "--config", cfg, "01020304")
	require.NoError(t, err)
	assert.Equal(t, "01020304\tunknown\n", out)

	_, err = execute(t, "", "match", "26011bda")
	assert.Error(t, err)
}

func TestDecodeCommandJSON(t *testing.T) {
	payload := fmt.Sprintf(`{
		"phyPayload": %q,
		"txInfo": {"frequency": 868100000, "modulation": {"lora": {"bandwidth": 125000, "spreadingFactor": 7, "codeRate": "CR_4_5"}}},
		"rxInfo": {"gatewayId": "0016c001ff10a235", "rssi": -97, "snr": 7.5}
	}`, base64.StdEncoding.EncodeToString(dataUpPHY))
	cfg := writeFile(t, "config.yml", "operators:\n  - name: Acme\n    prefix: \"26\"\n")

	out, err := execute(t, payload, "decode", "--format", "json", "--config", cfg,
		"--topic", "eu868/gateway/0016c001ff10a235/event/up")
	require.NoError(t, err)

	var got struct {
		Topic struct {
			Kind string `json:"kind"`
		} `json:"topic"`
		Packet map[string]interface{} `json:"packet"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "up", got.Topic.Kind)
	require.NotNil(t, got.Packet)
	assert.Equal(t, "26011bda", got.Packet["dev_addr"])
	assert.Equal(t, "Acme", got.Packet["operator"])
}

func TestDecodeCommandRejects(t *testing.T) {
	_, err := execute(t, "zz", "decode", "--hex")
	assert.Error(t, err)

	_, err = execute(t, hex.EncodeToString(dataUpPHY), "decode", "--hex", "--topic", "some/other/topic")
	assert.ErrorContains(t, err, "not routed")

	_, err = execute(t, "{}", "decode", "--format", "xml")
	assert.Error(t, err)
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := execute(t, "", "hash-password", "pw")
	require.NoError(t, err)
	assert.Contains(t, out, "admin_password_hash: \"$2a$")
	assert.Contains(t, out, "secret: ")
}
