package vrm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an identifier the API sends either as a JSON number or a string.
type ID string

// UnmarshalJSON accepts 123, "123" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Session is the result of a password login.
type Session struct {
	// Token is the session JWT, sent as "Bearer <token>".
	Token  string
	UserID ID
}

// AccessToken is a named personal access token on the account.
type AccessToken struct {
	ID   ID     `json:"idAccessToken"`
	Name string `json:"name"`
}

// Installation is one site visible to the account.
type Installation struct {
	ID   ID     `json:"idSite"`
	Name string `json:"name"`
}

// Diagnostic is one record of /installations/{site}/diagnostics.
//
// RawValue is a json.Number, string, bool or nil.
type Diagnostic struct {
	Device         string `json:"Device"`
	Instance       ID     `json:"instance"`
	Description    string `json:"description"`
	Code           string `json:"code"`
	RawValue       any    `json:"rawValue"`
	FormattedValue string `json:"formattedValue"`
	DataAttribute  ID     `json:"idDataAttribute"`
}

// envelope carries the success flag and error text most endpoints wrap
// their payload in.
type envelope struct {
	Success *bool  `json:"success"`
	Errors  any    `json:"errors"`
	Code    string `json:"error_code"`
}

func (e envelope) failed() bool { return e.Success != nil && !*e.Success }

func (e envelope) message() string {
	switch v := e.Errors.(type) {
	case nil:
		return e.Code
	case string:
		return v
	default:
		b, _ := json.Marshal(v) //nolint:errcheck // decoded JSON always re-encodes
		return string(b)
	}
}

type loginResponse struct {
	envelope
	Status string `json:"status"`
	Token  string `json:"token"`
	IDUser ID     `json:"idUser"`
}

type tokensResponse struct {
	envelope
	Tokens []AccessToken `json:"tokens"`
}

type createTokenResponse struct {
	envelope
	Token         string `json:"token"`
	IDAccessToken ID     `json:"idAccessToken"`
}

type installationsResponse struct {
	envelope
	Records []Installation `json:"records"`
}

type diagnosticsResponse struct {
	envelope
	Records []Diagnostic `json:"records"`
}
