package feeds

import (
	"encoding/binary"
	"regexp"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/shopspring/decimal"

	apperrors "funding-recon-service/pkg/errors"
)

// Advice files arrive as CSV attachments with a key/value preamble followed
// by a tab-delimited table:
//
//	Account Number: V00121139
//	Payment date: 20260208
//	Payment Amount : 26,872.70
//	Ref Number	Inv Nbr	Invoice description	Company Statement Name	...
//	OMPS-PR0005742	NVC7KTPCPVVV	Cat Ventura	Omni Prod. LLC	...
//
// The second table column carries the correlation code; the seventh the
// amount actually paid against it.

const adviceDateLayout = "20060102"

var payerFromSubject = regexp.MustCompile(`On behalf of (.+)`)

// ParseAdvice parses one raw advice attachment. Malformed data rows are
// skipped and counted; the advice as a whole fails only when neither a
// preamble nor any usable line was found.
func ParseAdvice(data []byte, sourceType, messageID, subject string) (*RemittanceAdvice, error) {
	text := decodeAttachment(data)

	advice := &RemittanceAdvice{
		MessageID:  messageID,
		SourceType: sourceType,
		Subject:    subject,
	}
	if m := payerFromSubject.FindStringSubmatch(subject); m != nil {
		advice.Payer = strings.TrimSpace(m[1])
	}

	headerSeen := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(line, "\r\n\t ")
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Account Number:"):
			advice.AccountNumber = valueAfterColon(line)
			continue
		case strings.HasPrefix(line, "Payment date:"):
			if t, err := time.Parse(adviceDateLayout, valueAfterColon(line)); err == nil {
				advice.PaymentDate = t
			}
			continue
		case strings.HasPrefix(line, "Payment Amount"):
			if amt, err := parseAdviceAmount(valueAfterColon(line)); err == nil {
				advice.PaymentAmount = amt
			}
			continue
		}

		if strings.Contains(line, "Ref Number") && strings.Contains(line, "Inv Nbr") {
			headerSeen = true
			continue
		}
		if !headerSeen {
			continue
		}

		al, ok := parseAdviceLine(line)
		if !ok {
			advice.SkippedLines++
			continue
		}
		advice.Lines = append(advice.Lines, al)
	}

	if advice.AccountNumber == "" && len(advice.Lines) == 0 {
		return nil, apperrors.LegDataError(apperrors.CodeMalformedRecord, "remittance",
			"advice has no account number and no parseable lines")
	}
	return advice, nil
}

func parseAdviceLine(line string) (AdviceLine, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) < 7 {
		return AdviceLine{}, false
	}
	code := strings.TrimSpace(parts[1])
	if code == "" {
		return AdviceLine{}, false
	}
	amount, err := parseAdviceAmount(parts[6])
	if err != nil {
		return AdviceLine{}, false
	}
	return AdviceLine{
		RefNumber:       strings.TrimSpace(parts[0]),
		CorrelationCode: code,
		Description:     strings.TrimSpace(parts[2]),
		Company:         strings.TrimSpace(parts[3]),
		Amount:          amount,
	}, true
}

// parseAdviceAmount reads amounts like "26,872.70". A bare dash means zero.
func parseAdviceAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func valueAfterColon(line string) string {
	if _, after, found := strings.Cut(line, ":"); found {
		return strings.TrimSpace(after)
	}
	return ""
}

// decodeAttachment handles the encodings seen in the wild: UTF-16 in either
// byte order (common for exported CSVs), BOM-prefixed UTF-8, and plain text.
func decodeAttachment(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE:
		return decodeUTF16(data[2:], binary.LittleEndian)
	case len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF:
		return decodeUTF16(data[2:], binary.BigEndian)
	case len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF:
		return string(data[3:])
	default:
		return string(data)
	}
}

func decodeUTF16(data []byte, order binary.ByteOrder) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, order.Uint16(data[i:]))
	}
	return string(utf16.Decode(units))
}
