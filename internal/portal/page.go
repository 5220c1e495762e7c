// Package portal drives the customs declaration lookup page.
package portal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultURL is the declaration lookup page of the customs portal.
const DefaultURL = "https://www.customs.gov.vn/index.jsp?pageId=136&cid=93"

// CaptchaSourcePrefix is the data-URI prefix the portal puts in front of the challenge bitmap.
const CaptchaSourcePrefix = "data:image/jpg;base64,"

var (
	// ErrWaitTimeout is returned by WaitForAnyOf when no condition held before the timeout.
	ErrWaitTimeout = errors.New("timed out waiting for page")
	// ErrBadCaptchaSource is returned when the challenge image source does not carry the expected prefix.
	ErrBadCaptchaSource = errors.New("unexpected captcha image source")
)

// Condition is something WaitForAnyOf can wait for: an element matching a CSS selector or an XPath expression.
type Condition struct {
	Selector string `json:"sel"`
	XPath    bool   `json:"xpath"`
}

// CSS returns a condition satisfied when selector matches an element.
func CSS(selector string) Condition {
	return Condition{Selector: selector}
}

// XPath returns a condition satisfied when expr matches a node.
func XPath(expr string) Condition {
	return Condition{Selector: expr, XPath: true}
}

func (c Condition) String() string {
	if c.XPath {
		return "xpath:" + c.Selector
	}
	return c.Selector
}

// Page is the browser capability the lookup worker drives. Field methods take element ids; Click,
// ReadAttribute, IdentityOf and OuterHTML take CSS selectors. Every method may fail with a transport error.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Clear(ctx context.Context, id string) error
	WriteField(ctx context.Context, id, value string) error
	// SetValue assigns the field's value directly, for inputs that drop typed keystrokes.
	SetValue(ctx context.Context, id, value string) error
	ReadField(ctx context.Context, id string) (string, error)
	Click(ctx context.Context, selector string) error
	ReadAttribute(ctx context.Context, selector, name string) (string, error)
	// WaitForAnyOf returns the index of the first condition that holds, or ErrWaitTimeout.
	WaitForAnyOf(ctx context.Context, conditions []Condition, timeout time.Duration) (int, error)
	// IdentityOf returns an opaque token that stays the same for as long as the same element matches selector.
	// It returns "" when nothing matches.
	IdentityOf(ctx context.Context, selector string) (string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
}

// Selectors names the elements of the lookup form.
type Selectors struct {
	DeclarationField string `yaml:"declaration_field"`
	BusinessField    string `yaml:"business_field"`
	PersonalField    string `yaml:"personal_field"`
	CaptchaField     string `yaml:"captcha_field"`
	CaptchaImage     string `yaml:"captcha_image"`
	RefreshButton    string `yaml:"refresh_button"`
	SubmitButton     string `yaml:"submit_button"`
	ResultTable      string `yaml:"result_table"`
	WrongCodeXPath   string `yaml:"wrong_code_xpath"`
}

// DefaultSelectors returns the selectors of the live portal.
func DefaultSelectors() Selectors {
	return Selectors{
		DeclarationField: "soTK",
		BusinessField:    "maDN",
		PersonalField:    "soCMT",
		CaptchaField:     "check-input",
		CaptchaImage:     "#mainCaptcha img",
		RefreshButton:    `button[onclick="getCaptcha()"]`,
		SubmitButton:     "#btn-search",
		ResultTable:      ".tbl-TTTK",
		WrongCodeXPath:   "//*[contains(text(), 'Sai mã kiểm tra')]",
	}
}

// MergeWithDefaults fills empty selectors from DefaultSelectors.
func (s *Selectors) MergeWithDefaults() {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.DeclarationField, d.DeclarationField)
	fill(&s.BusinessField, d.BusinessField)
	fill(&s.PersonalField, d.PersonalField)
	fill(&s.CaptchaField, d.CaptchaField)
	fill(&s.CaptchaImage, d.CaptchaImage)
	fill(&s.RefreshButton, d.RefreshButton)
	fill(&s.SubmitButton, d.SubmitButton)
	fill(&s.ResultTable, d.ResultTable)
	fill(&s.WrongCodeXPath, d.WrongCodeXPath)
}

// DecodeCaptchaSource strips CaptchaSourcePrefix from an image src attribute and decodes the base64 payload.
func DecodeCaptchaSource(src string) ([]byte, error) {
	payload, ok := strings.CutPrefix(src, CaptchaSourcePrefix)
	if !ok {
		shown := src
		if len(shown) > 32 {
			shown = shown[:32] + "..."
		}
		return nil, fmt.Errorf("%w: %q", ErrBadCaptchaSource, shown)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCaptchaSource, err)
	}
	return data, nil
}
