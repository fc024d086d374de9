/*
Package attendsdk provides a client for the rollcall attendance REST API.

# Overview

The API has four attendance endpoints. Each maps to one Client method:

	client := attendsdk.NewClient("https://rollcall.example.com",
		attendsdk.WithToken(attendsdk.StaticToken(accessToken)),
	)

	// Issue (or rotate) the token for a session
	qr, err := client.GenerateQR(ctx, attendsdk.GenerateQRRequest{SessionID: "42"})

	// Record a check-in from a scanned code
	res, err := client.ValidateQR(ctx, attendsdk.ValidateQRRequest{QRToken: tok, StudentID: "s-1"})

	// Inspect and revoke
	status, err := client.QRStatus(ctx, "42")
	_, err = client.RevokeQR(ctx, "42")

# Errors

Failures reported by the server come back as *APIError; the Message field is
the server's own text and should be shown to the user as is. Transport
failures come back as *NetworkError. Use IsNotFound and IsNetwork to tell
them apart, and UserMessage to get display text for either.

# Retries

GenerateQR and QRStatus retry network errors with exponential backoff
according to Client.Retry. Server responses, including 4xx, are never
retried. ValidateQR and RevokeQR are never retried: a validate call records
attendance, so the caller decides whether to try again. When the retry budget
runs out the error wraps ErrRetryBudgetExhausted.

QRStatus treats a 404 as "no token issued" and returns an inactive status
instead of an error.
*/
package attendsdk
