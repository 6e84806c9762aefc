package auth

import "time"

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 24 * time.Hour
)

// TokenService issues access/refresh token pairs and renews access tokens
// from still-valid refresh tokens. It holds no state beyond its TTL
// configuration and needs no locking.
type TokenService struct {
	codec      *Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(codec *Codec) *TokenService {
	return &TokenService{
		codec:      codec,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
}

func (s *TokenService) WithTTLs(accessTTL, refreshTTL time.Duration) {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// IssuePair always mints an access token; a refresh token is minted only when
// the client opted in at login.
func (s *TokenService) IssuePair(subjectID string, wantRefresh bool) (TokenPair, error) {
	access, err := s.codec.Issue(subjectID, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	pair := TokenPair{AccessToken: access}
	if wantRefresh {
		refresh, err := s.codec.Issue(subjectID, s.refreshTTL)
		if err != nil {
			return TokenPair{}, err
		}
		pair.RefreshToken = refresh
	}

	return pair, nil
}

// RefreshAccessToken mints a new access token for the subject of a valid
// refresh token. It never returns an error: any verification failure just
// signals the absence of a renewed token, which callers map to an
// authentication failure.
func (s *TokenService) RefreshAccessToken(refreshToken string) (string, bool) {
	claims, err := s.codec.Verify(refreshToken)
	if err != nil {
		return "", false
	}

	access, err := s.codec.Issue(claims.SubjectID, s.accessTTL)
	if err != nil {
		return "", false
	}

	return access, true
}
