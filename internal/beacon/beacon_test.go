package beacon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeQueryPlusAndPercent(t *testing.T) {
	fields := decodeQuery([]byte("logjam_action=Foo+Bar&script_nodes=12&v=1"))
	assert.Equal(t, "Foo Bar", fields["logjam_action"])
	assert.Equal(t, int64(12), fields["script_nodes"])
	assert.Equal(t, int64(1), fields["v"])
}

func TestDecodeQueryPercentEscape(t *testing.T) {
	fields := decodeQuery([]byte("logjam_action=a%20b"))
	assert.Equal(t, "a b", fields["logjam_action"])
}

func TestDecodeQueryNonNumericCoercionIsZero(t *testing.T) {
	fields := decodeQuery([]byte("v=not-a-number"))
	assert.Equal(t, int64(0), fields["v"])
}

func TestValidateFieldsExtractsAppEnv(t *testing.T) {
	fields := map[string]interface{}{
		"v":                 int64(1),
		"logjam_request_id": "my-app-prod-abc123",
		"logjam_action":     "Checkout#show",
	}
	app, env, ok := validateFields(fields)
	require.True(t, ok)
	assert.Equal(t, "my", app)
	assert.Equal(t, "app", env)
}

func TestValidateFieldsRejectsMissingVersion(t *testing.T) {
	fields := map[string]interface{}{
		"logjam_request_id": "my-app-prod",
		"logjam_action":     "x",
	}
	_, _, ok := validateFields(fields)
	assert.False(t, ok)
}

func TestValidateFieldsRejectsLongRequestID(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	long[1] = '-'
	fields := map[string]interface{}{
		"v":                 int64(1),
		"logjam_request_id": string(long),
		"logjam_action":     "x",
	}
	_, _, ok := validateFields(fields)
	assert.False(t, ok)
}

func TestValidateFieldsAcceptsRequestIDAtBoundary(t *testing.T) {
	id := "a-" + string(make256Dashless(253))
	fields := map[string]interface{}{
		"v":                 int64(1),
		"logjam_request_id": id,
		"logjam_action":     "x",
	}
	_, _, ok := validateFields(fields)
	assert.True(t, ok)
	assert.Len(t, id, 255)
}

func make256Dashless(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'b'
	}
	return b
}

func TestValidateFieldsRejectsNoHyphen(t *testing.T) {
	fields := map[string]interface{}{
		"v":                 int64(1),
		"logjam_request_id": "noHyphenHere",
		"logjam_action":     "x",
	}
	_, _, ok := validateFields(fields)
	assert.False(t, ok)
}
