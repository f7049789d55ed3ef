package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Signature scheme constants.
const (
	// Algorithm is the signature algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// KeyPrefix seeds the signing key derivation.
	KeyPrefix = "AWS4"

	// Terminator ends the credential scope and the key derivation chain.
	Terminator = "aws4_request"

	// MaxPresignExpiry is the maximum validity window the device gateway
	// accepts for a presigned connection URL.
	MaxPresignExpiry = 300 * time.Second

	timestampFormat = "20060102T150405Z"
	dateFormat      = "20060102"
)

// SigningError reports why a signing operation could not be performed.
// Signing errors are not retryable with the same inputs: the caller must
// refresh credentials or fix the missing parameter first.
type SigningError struct {
	// Reason describes the failed precondition.
	Reason string
}

// Error implements the error interface.
func (e *SigningError) Error() string {
	return "sigv4: " + e.Reason
}

// SignedEndpoint is a ready-to-use connection URL with its validity window.
// It must not be reused past ExpiresAt.
type SignedEndpoint struct {
	// URL is the complete presigned URL, including the signature and,
	// if present, the session token.
	URL string

	// ExpiresAt is the instant after which the endpoint is invalid.
	ExpiresAt time.Time
}

// SignedHeaders is the result of signing an HTTP request via headers.
type SignedHeaders struct {
	// Authorization is the full Authorization header value.
	Authorization string

	// Date is the X-Amz-Date header value.
	Date string

	// SecurityToken is the X-Amz-Security-Token header value, empty when
	// the credentials carry no session token.
	SecurityToken string
}

// validate checks the preconditions shared by all signing operations.
func validate(creds aws.Credentials, host, region string, now time.Time) error {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return &SigningError{Reason: "credentials missing access key or secret"}
	}
	if creds.CanExpire && !now.Before(creds.Expires) {
		return &SigningError{Reason: "credentials expired at " + creds.Expires.UTC().Format(time.RFC3339)}
	}
	if host == "" {
		return &SigningError{Reason: "host is required"}
	}
	if region == "" {
		return &SigningError{Reason: "region is required"}
	}
	return nil
}

// PresignWebSocketURL produces a presigned wss:// URL for a device-gateway
// style service. The signature authorizes a GET to path (typically "/mqtt")
// for at most expiry, capped at MaxPresignExpiry.
//
// The session token, when present, is appended to the final URL only. It is
// deliberately excluded from the canonical query string used for signature
// computation.
func PresignWebSocketURL(host, path string, creds aws.Credentials, service, region string, now time.Time, expiry time.Duration) (SignedEndpoint, error) {
	if err := validate(creds, host, region, now); err != nil {
		return SignedEndpoint{}, err
	}
	if service == "" {
		return SignedEndpoint{}, &SigningError{Reason: "service is required"}
	}
	if path == "" {
		path = "/"
	}
	if expiry <= 0 || expiry > MaxPresignExpiry {
		expiry = MaxPresignExpiry
	}

	now = now.UTC()
	amzDate := now.Format(timestampFormat)
	dateStamp := now.Format(dateFormat)
	scope := dateStamp + "/" + region + "/" + service + "/" + Terminator

	query := url.Values{}
	query.Set("X-Amz-Algorithm", Algorithm)
	query.Set("X-Amz-Credential", creds.AccessKeyID+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.Itoa(int(expiry.Seconds())))
	query.Set("X-Amz-SignedHeaders", "host")

	canonicalQuery := canonicalQueryString(query)
	canonicalHeaders := "host:" + host + "\n"
	payloadHash := hashHex(nil)

	canonicalRequest := strings.Join([]string{
		"GET",
		path,
		canonicalQuery,
		canonicalHeaders,
		"host",
		payloadHash,
	}, "\n")

	signature := computeSignature(creds.SecretAccessKey, dateStamp, region, service, amzDate, scope, canonicalRequest)

	u := "wss://" + host + path + "?" + canonicalQuery + "&X-Amz-Signature=" + signature
	if creds.SessionToken != "" {
		// Appended after signing; never part of the canonical query.
		u += "&X-Amz-Security-Token=" + url.QueryEscape(creds.SessionToken)
	}

	return SignedEndpoint{URL: u, ExpiresAt: now.Add(expiry)}, nil
}

// SignRequest signs an HTTP request via headers. The session token, when
// present, is included as the x-amz-security-token header and participates
// in the canonical request, unlike the presigned URL case.
func SignRequest(method, host, path string, query url.Values, payload []byte, creds aws.Credentials, service, region string, now time.Time) (SignedHeaders, error) {
	if err := validate(creds, host, region, now); err != nil {
		return SignedHeaders{}, err
	}
	if service == "" {
		return SignedHeaders{}, &SigningError{Reason: "service is required"}
	}
	if method == "" {
		method = "GET"
	}
	if path == "" {
		path = "/"
	}

	now = now.UTC()
	amzDate := now.Format(timestampFormat)
	dateStamp := now.Format(dateFormat)
	scope := dateStamp + "/" + region + "/" + service + "/" + Terminator

	headers := [][2]string{
		{"host", host},
		{"x-amz-date", amzDate},
	}
	if creds.SessionToken != "" {
		headers = append(headers, [2]string{"x-amz-security-token", creds.SessionToken})
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i][0] < headers[j][0] })

	var canonicalHeaders strings.Builder
	signedNames := make([]string, 0, len(headers))
	for _, h := range headers {
		canonicalHeaders.WriteString(h[0])
		canonicalHeaders.WriteString(":")
		canonicalHeaders.WriteString(h[1])
		canonicalHeaders.WriteString("\n")
		signedNames = append(signedNames, h[0])
	}
	signedHeaderList := strings.Join(signedNames, ";")

	canonicalRequest := strings.Join([]string{
		method,
		path,
		canonicalQueryString(query),
		canonicalHeaders.String(),
		signedHeaderList,
		hashHex(payload),
	}, "\n")

	signature := computeSignature(creds.SecretAccessKey, dateStamp, region, service, amzDate, scope, canonicalRequest)

	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, creds.AccessKeyID, scope, signedHeaderList, signature)

	return SignedHeaders{
		Authorization: authorization,
		Date:          amzDate,
		SecurityToken: creds.SessionToken,
	}, nil
}

// computeSignature performs steps 2-4 of the signature scheme.
func computeSignature(secret, dateStamp, region, service, amzDate, scope, canonicalRequest string) string {
	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	key := hmacSHA256([]byte(KeyPrefix+secret), dateStamp)
	key = hmacSHA256(key, region)
	key = hmacSHA256(key, service)
	key = hmacSHA256(key, Terminator)

	return hex.EncodeToString(hmacSHA256(key, stringToSign))
}

// canonicalQueryString sorts parameters lexicographically by key and
// percent-encodes keys and values.
func canonicalQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(encodeRFC3986(k))
			b.WriteByte('=')
			b.WriteString(encodeRFC3986(v))
		}
	}
	return b.String()
}

// encodeRFC3986 percent-encodes a query component the way the signature
// scheme requires: spaces become %20 and the unreserved set stays literal.
func encodeRFC3986(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	// url.QueryEscape encodes tilde, the scheme treats it as unreserved.
	escaped = strings.ReplaceAll(escaped, "%7E", "~")
	return escaped
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
