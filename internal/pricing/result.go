package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"litigation-backend/internal/audit"
)

// Outcome classifies a premium call. Exactly one applies to every call.
type Outcome string

const (
	OutcomeRateData       Outcome = "rate_data"
	OutcomeNoRateData     Outcome = "no_rate_data"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeTransportError Outcome = "transport_error"
)

var (
	ErrProviderTimeout   = errors.New("provider timeout")
	ErrProviderHTTP      = errors.New("provider http error")
	ErrProviderNoRate    = errors.New("provider returned no rate data")
	ErrProviderTransport = errors.New("provider transport error")
)

// HTTPError carries the status the provider answered with.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return ErrProviderHTTP
}

// RateSchedule is the premium/rate envelope a provider quotes for an amount.
type RateSchedule struct {
	MinPremium decimal.NullDecimal `json:"minPremium"`
	MaxPremium decimal.NullDecimal `json:"maxPremium"`
	MinRate    decimal.NullDecimal `json:"minRate"`
	MaxRate    decimal.NullDecimal `json:"maxRate"`
	MaxAmount  decimal.NullDecimal `json:"maxAmount"`
}

// PriceResult is the tagged result of one premium call. Rate is set only for OutcomeRateData.
type PriceResult struct {
	Outcome    Outcome
	StatusCode int
	Rate       *RateSchedule
	Premium    decimal.NullDecimal
	Err        error
	Request    audit.RequestSnapshot
	Response   audit.ResponseSnapshot
}

// OK reports whether the call produced usable rate data.
func (r PriceResult) OK() bool {
	return r.Outcome == OutcomeRateData
}

// FailureKind maps the outcome onto the persisted audit taxonomy.
func (r PriceResult) FailureKind() audit.Kind {
	switch r.Outcome {
	case OutcomeTimeout:
		return audit.KindTimeout
	case OutcomeHTTPError:
		return audit.KindHTTPError
	case OutcomeNoRateData:
		return audit.KindNoRateData
	case OutcomeTransportError:
		return audit.KindTransport
	default:
		return ""
	}
}

// flexDecimal accepts 12.5, "12.5", "", and null.
type flexDecimal struct {
	decimal.NullDecimal
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if raw == "" {
			return nil
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("not a number: %q", raw)
	}
	f.NullDecimal = decimal.NullDecimal{Decimal: d, Valid: true}
	return nil
}

type premiumEnvelope struct {
	Code    *json.Number    `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type premiumData struct {
	Premium        flexDecimal `json:"premium"`
	MinPremium     flexDecimal `json:"minPremium"`
	MaxPremium     flexDecimal `json:"maxPremium"`
	MinRate        flexDecimal `json:"minRate"`
	MaxRate        flexDecimal `json:"maxRate"`
	MaxAmount      flexDecimal `json:"maxAmount"`
	MaxApplyAmount flexDecimal `json:"maxApplyAmount"`
}

// parseRate reads the rate schedule from a 2xx body. A nil schedule means the body
// carried no premium or rate fields; a malformed body counts the same way.
// A non-success envelope code comes back as *HTTPError.
func parseRate(body []byte) (rate *RateSchedule, premium decimal.NullDecimal, envelopeErr error) {
	var env premiumEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, premium, nil
	}
	if env.Code != nil {
		switch env.Code.String() {
		case "0", "200":
		default:
			code, _ := env.Code.Int64()
			msg := env.Msg
			if msg == "" {
				msg = env.Message
			}
			return nil, premium, &HTTPError{StatusCode: int(code), Message: msg}
		}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, premium, nil
	}

	var data premiumData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, premium, nil
	}
	maxAmount := data.MaxAmount.NullDecimal
	if !maxAmount.Valid {
		maxAmount = data.MaxApplyAmount.NullDecimal
	}
	sched := &RateSchedule{
		MinPremium: data.MinPremium.NullDecimal,
		MaxPremium: data.MaxPremium.NullDecimal,
		MinRate:    data.MinRate.NullDecimal,
		MaxRate:    data.MaxRate.NullDecimal,
		MaxAmount:  maxAmount,
	}
	if !sched.MinPremium.Valid && !sched.MaxPremium.Valid && !sched.MinRate.Valid && !sched.MaxRate.Valid {
		return nil, premium, nil
	}
	premium = data.Premium.NullDecimal
	if !premium.Valid {
		premium = sched.MinPremium
	}
	return sched, premium, nil
}
