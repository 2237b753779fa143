package appkit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ PlanCapableSession = &SessionObject{}

// AccessSession holds attributes decoded from an access token.
type AccessSession interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	GetAudience() []string
	GetIssuer() string
	GetIssuedAt() *time.Time
	GetData() map[string]any
}

// PlanCapableSession extends AccessSession with plan gating checks.
type PlanCapableSession interface {
	AccessSession
	AllowsCategory(category string) bool
	IsAtLeast(minPlan PlanTier) bool
	IsAdmin() bool
}

type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// AllowsCategory checks if the session's plan may submit the job category
func (s *SessionObject) AllowsCategory(category string) bool {
	return s.getPlan().AllowsCategory(category)
}

// IsAtLeast checks if the session's plan is at least the minimum required tier
func (s *SessionObject) IsAtLeast(minPlan PlanTier) bool {
	return s.getPlan().IsAtLeast(minPlan)
}

// IsAdmin reports the admin flag carried in the session data
func (s *SessionObject) IsAdmin() bool {
	if s.Data == nil {
		return false
	}
	if admin, ok := s.Data["admin"].(bool); ok {
		return admin
	}
	return false
}

// getPlan retrieves the plan from session data with fallback to free
func (s *SessionObject) getPlan() PlanTier {
	if s.Data != nil {
		if planData, exists := s.Data["plan"]; exists {
			if planStr, ok := planData.(string); ok {
				if plan, valid := ParsePlan(planStr); valid {
					return plan
				}
			}
		}
	}
	// Default to the free tier if no plan is found or parsing fails
	return PlanFree
}

// TODO: enable only in development!
func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s aud=%v iss=%s iat=%s data=%v",
		s.UserID,
		s.Audience,
		s.Issuer,
		issuedAt,
		s.Data,
	)
}

// sessionFromAuthClaims creates a SessionObject from the AuthClaims interface
func sessionFromAuthClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToParseData
	}

	data := make(map[string]any)
	data["plan"] = claims.Plan()
	data["admin"] = claims.IsAdmin()
	data["email"] = claims.Email()

	if jwtClaims, ok := claims.(*JWTClaims); ok {
		if len(jwtClaims.Metadata) > 0 {
			data["metadata"] = jwtClaims.Metadata
		}
	}

	var audience []string
	if jwtClaims, ok := claims.(*JWTClaims); ok {
		audience = append(audience, jwtClaims.RegisteredClaims.Audience...)
	}

	issuedAt := claims.IssuedAt()
	expiresAt := claims.Expires()

	return &SessionObject{
		UserID:         claims.UserID(),
		Audience:       audience,
		Issuer:         getIssuerFromClaims(claims),
		Data:           data,
		IssuedAt:       &issuedAt,
		ExpirationDate: &expiresAt,
	}, nil
}

// getIssuerFromClaims extracts the issuer from AuthClaims
func getIssuerFromClaims(claims AuthClaims) string {
	if jwtClaims, ok := claims.(*JWTClaims); ok {
		if jwtClaims.RegisteredClaims.Issuer != "" {
			return jwtClaims.RegisteredClaims.Issuer
		}
	}
	// Fallback to subject if no issuer is available
	return claims.Subject()
}

// sessionFromClaims builds a SessionObject from raw JWT map claims.
func sessionFromClaims(claims map[string]any) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToMapClaims
	}

	session := &SessionObject{
		Data: map[string]any{},
	}

	if sub, ok := claims["sub"].(string); ok {
		session.UserID = sub
	}
	if uid, ok := claims["uid"].(string); ok && uid != "" {
		session.UserID = uid
	}
	if iss, ok := claims["iss"].(string); ok {
		session.Issuer = iss
	}
	if plan, ok := claims["plan"].(string); ok {
		session.Data["plan"] = plan
	}
	if admin, ok := claims["adm"].(bool); ok {
		session.Data["admin"] = admin
	}
	if email, ok := claims["email"].(string); ok {
		session.Data["email"] = email
	}

	switch aud := claims["aud"].(type) {
	case string:
		session.Audience = []string{aud}
	case []any:
		for _, a := range aud {
			if s, ok := a.(string); ok {
				session.Audience = append(session.Audience, s)
			}
		}
	}

	if iat, ok := claims["iat"].(float64); ok {
		t := time.Unix(int64(iat), 0)
		session.IssuedAt = &t
	}
	if exp, ok := claims["exp"].(float64); ok {
		t := time.Unix(int64(exp), 0)
		session.ExpirationDate = &t
	}

	return session, nil
}
