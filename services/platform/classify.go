package platform

import (
	"errors"
	"net/http"

	"smallbiznis-airdrop/pkg/retry"
)

// Decode failures can surface as io.ErrUnexpectedEOF, so this rule must come
// before the network rule.
var malformedRule = retry.Rule{Name: "malformed", Class: retry.Fatal, Match: func(err error) bool { return errors.Is(err, ErrMalformedResponse) }}

var rateLimitRule = retry.Rule{Name: "rate_limit", Class: retry.RateLimited, Match: StatusIn(http.StatusTooManyRequests)}

// Twitter answers 503 when it is over capacity.
var twitterClassifier = retry.Classifier{
	malformedRule,
	rateLimitRule,
	retry.NetworkRule,
	{Name: "over_capacity", Class: retry.Transient, Match: StatusIn(http.StatusServiceUnavailable)},
}

// RapidAPI fronts instagram188; its gateway errors are transient, and a
// success=false body is not.
var instagramClassifier = retry.Classifier{
	malformedRule,
	rateLimitRule,
	retry.NetworkRule,
	{Name: "gateway", Class: retry.Transient, Match: StatusIn(http.StatusBadGateway, http.StatusGatewayTimeout)},
}

var discordClassifier = retry.Classifier{
	malformedRule,
	rateLimitRule,
	retry.NetworkRule,
	{Name: "gateway", Class: retry.Transient, Match: StatusIn(http.StatusBadGateway)},
}
