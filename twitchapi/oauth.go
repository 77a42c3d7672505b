package twitchapi

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// AuthCodeExchangeResult carries the tokens from an authorization-code grant.
type AuthCodeExchangeResult struct {
	AccessToken  string
	RefreshToken string
	Scope        []string
}

// BuildAuthorizeURL constructs the user authorization URL for the OAuth code grant.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return endpoints.Twitch.AuthURL + "?" + v.Encode(), nil
}

// ExchangeAuthCode exchanges an authorization code for access and refresh tokens.
func ExchangeAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*AuthCodeExchangeResult, error) {
	if clientID == "" || clientSecret == "" || code == "" || redirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	oc := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.Twitch,
		RedirectURL:  redirectURI,
	}
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	res := &AuthCodeExchangeResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if sc, ok := tok.Extra("scope").([]interface{}); ok {
		for _, s := range sc {
			if str, ok := s.(string); ok {
				res.Scope = append(res.Scope, str)
			}
		}
	}
	return res, nil
}
