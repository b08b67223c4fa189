package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

/*
Claims is the payload carried by an application's handshake token. The
subject holds the application id; name and admin mirror the stored record
at the time the token was minted.
*/
type Claims struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

/*
Verifier validates and mints the HMAC-signed JWTs applications present
during the handshake.
*/
type Verifier struct {
	signingKey []byte
	methods    []string
}

/*
NewVerifier builds a Verifier from the shared secret and a space-separated
allow-list of signing algorithms.
*/
func NewVerifier(secret, algorithms string) *Verifier {
	methods := strings.Fields(algorithms)

	if len(methods) == 0 {
		methods = []string{"HS256"}
	}

	return &Verifier{signingKey: []byte(secret), methods: methods}
}

func (verifier *Verifier) getSigningKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	return verifier.signingKey, nil
}

/*
Verify parses the token and returns its claims. It enforces the signature,
the algorithm allow-list, expiry when the token carries one, and a non-empty
subject.
*/
func (verifier *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(
		tokenString, claims, verifier.getSigningKey,
		jwt.WithValidMethods(verifier.methods),
	)

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("token is missing a subject")
	}

	return claims, nil
}

/*
Mint signs a token for the application so operators can hand out handshake
credentials. A zero ttl produces a token without expiry.
*/
func (verifier *Verifier) Mint(
	subject, name string, admin bool, ttl time.Duration,
) (string, error) {
	now := time.Now()

	claims := &Claims{
		Name:  name,
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(verifier.methods[0]), claims)
	signed, err := token.SignedString(verifier.signingKey)

	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}
