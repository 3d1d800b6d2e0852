package session

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/choirapp/internal/utils"
)

// accessTokenClaimKeys are taken from a JWT access token when the ID token and userinfo
// did not carry them. Keycloak only maps realm roles into the access token by default.
var accessTokenClaimKeys = []string{"realm_access", "resource_access"}

// accessTokenClaims reads the payload of a JWT access token without verifying it.
// Opaque tokens yield nil.
func accessTokenClaims(accessToken string) map[string]any {
	if accessToken == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil
	}
	return claims
}

// buildProfile merges the ID token claims with userinfo and access token claims. ID
// token claims always win.
func buildProfile(idClaims, userInfo map[string]any, accessToken string) map[string]any {
	profile := make(map[string]any, len(idClaims))
	utils.MergeMissing(profile, idClaims)
	utils.MergeMissing(profile, userInfo)

	atClaims := accessTokenClaims(accessToken)
	for _, key := range accessTokenClaimKeys {
		if _, exists := profile[key]; exists {
			continue
		}
		if v, ok := atClaims[key]; ok {
			profile[key] = v
		}
	}

	// Protocol claims describe the token, not the user.
	for _, key := range []string{"nonce", "at_hash", "c_hash", "iat", "nbf", "exp", "aud", "iss"} {
		delete(profile, key)
	}
	return profile
}

func subject(claims map[string]any) string {
	sub, _ := claims["sub"].(string)
	return sub
}
