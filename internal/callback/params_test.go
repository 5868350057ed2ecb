package callback

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paramsFromQuery(t *testing.T, query string) Params {
	t.Helper()
	values, err := url.ParseQuery(query)
	require.NoError(t, err)
	return NewParams(values)
}

func TestGetTrimsAndFallsThroughAliases(t *testing.T) {
	p := paramsFromQuery(t, "a=%20%20&b=hello")

	assert.Equal(t, "hello", p.Get("a", "b"))
	assert.Equal(t, "", p.Get("a"))
	assert.Equal(t, "def", p.GetDefault("def", "a", "missing"))
}

func TestGetIntRejectsMalformedInput(t *testing.T) {
	p := paramsFromQuery(t, "good=42&bad=12abc&float=1.5&empty=")

	assert.Equal(t, 42, p.GetInt(0, "good"))
	assert.Equal(t, 7, p.GetInt(7, "bad"))
	assert.Equal(t, 7, p.GetInt(7, "float"))
	assert.Equal(t, 7, p.GetInt(7, "empty"))
	assert.Equal(t, -3, paramsFromQuery(t, "n=-3").GetInt(0, "n"))
}

func TestStartCallIDAliasChain(t *testing.T) {
	cases := []struct {
		query      string
		wantID     string
		wantSource string
	}{
		{"callId=A&cs_unique_id=B", "A", "callId"},
		{"cs_unique_id=B&sessionId=D", "B", "cs_unique_id"},
		{"crm_push_generated_time=C", "C", "crm_push_generated_time"},
		{"sessionId=D", "D", "sessionId"},
		{"other=x", "", ""},
	}
	for _, tc := range cases {
		p := paramsFromQuery(t, tc.query)
		id, source := p.StartCallID()
		assert.Equal(t, tc.wantID, id, tc.query)
		assert.Equal(t, tc.wantSource, source, tc.query)
	}
}

func TestCRTObjectIDFallsBackToCustomerCRTId(t *testing.T) {
	assert.Equal(t, "crt-1", paramsFromQuery(t, "crtObjectId=crt-1&customerCRTId=other").CRTObjectID())
	assert.Equal(t, "other", paramsFromQuery(t, "customerCRTId=other").CRTObjectID())
}

func TestSubCtiHistoryIDAliases(t *testing.T) {
	assert.Equal(t, "crt-1", paramsFromQuery(t, "customerCRTId=crt-1&subCtiHistoryId=old").SubCtiHistoryID())
	assert.Equal(t, "old", paramsFromQuery(t, "subCtiHistoryId=old").SubCtiHistoryID())
	assert.Equal(t, "", paramsFromQuery(t, "x=1").SubCtiHistoryID())
}

func TestTargetTelCstmPhoneOverride(t *testing.T) {
	p := paramsFromQuery(t, "dialledPhone=0311111111&cstmPhone=0322222222")

	// First attempt keeps the dialled phone even when cstmPhone is present.
	assert.Equal(t, "0311111111", p.TargetTel(0))
	// Second attempt: dialledPhone still carries phone1, cstmPhone wins.
	assert.Equal(t, "0322222222", p.TargetTel(1))

	// No dialled phone at all: cstmPhone fills in regardless of index.
	p = paramsFromQuery(t, "cstmPhone=0322222222")
	assert.Equal(t, "0322222222", p.TargetTel(0))
}

func TestStartTargetTelAliases(t *testing.T) {
	assert.Equal(t, "0311111111", paramsFromQuery(t, "phone=0311111111&dstPhone=x").StartTargetTel())
	assert.Equal(t, "0322222222", paramsFromQuery(t, "displayPhone=0322222222").StartTargetTel())
	assert.Equal(t, "0333333333", paramsFromQuery(t, "dstPhone=0333333333").StartTargetTel())
}

func TestNumAttemptsDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, paramsFromQuery(t, "x=1").NumAttempts())
	assert.Equal(t, 2, paramsFromQuery(t, "numAttempts=2").NumAttempts())
}

func TestIsConnected(t *testing.T) {
	assert.True(t, paramsFromQuery(t, "callConnectedTime=2026/01/20+11:16:41+%2B0900").IsConnected())
	assert.True(t, paramsFromQuery(t, "systemDisposition=connected").IsConnected())
	assert.True(t, paramsFromQuery(t, "callResult=success").IsConnected())
	assert.False(t, paramsFromQuery(t, "systemDisposition=NO_ANSWER").IsConnected())
	assert.False(t, paramsFromQuery(t, "x=1").IsConnected())
}

func TestPhoneListStructuredParameterWins(t *testing.T) {
	p := paramsFromQuery(t, `phoneList={"phoneList":["0311111111","0322222222"]}&phone1=0399999999`)
	assert.Equal(t, []string{"0311111111", "0322222222"}, p.PhoneList())
	assert.True(t, p.HasPhone2())
}

func TestPhoneListAcceptsBareArray(t *testing.T) {
	p := paramsFromQuery(t, `phoneList=["111","222"]`)
	assert.Equal(t, []string{"111", "222"}, p.PhoneList())

	// Numeric entries are stringified.
	p = paramsFromQuery(t, `phoneList=[111,222]`)
	assert.Equal(t, []string{"111", "222"}, p.PhoneList())
}

func TestPhoneListFallsBackToIndividualFields(t *testing.T) {
	p := paramsFromQuery(t, "phone1=0311111111&phone2=0322222222")
	assert.Equal(t, []string{"0311111111", "0322222222"}, p.PhoneList())

	// Malformed structured parameter falls through to the individual fields.
	p = paramsFromQuery(t, "phoneList=notjson&phone1=0311111111")
	assert.Equal(t, []string{"0311111111"}, p.PhoneList())
}

func TestPhoneListDedupesAndUsesDialledPhoneAsLastResort(t *testing.T) {
	p := paramsFromQuery(t, "phone1=0311111111&dialledPhone=0311111111")
	assert.Equal(t, []string{"0311111111"}, p.PhoneList())
	assert.False(t, p.HasPhone2())

	p = paramsFromQuery(t, "dialledPhone=0344444444")
	assert.Equal(t, []string{"0344444444"}, p.PhoneList())
}
