package jwttoken

import "roster/pkg/domain"

// JWTServiceAdapter satisfies middleware.JWTValidator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (domain.Actor, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return domain.Actor{}, err
	}
	return claims.Actor(), nil
}
