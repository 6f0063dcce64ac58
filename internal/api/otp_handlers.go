package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/nordkyn/authcore/internal/mailer"
	"github.com/nordkyn/authcore/internal/models"
	"github.com/nordkyn/authcore/internal/otp"
)

// OtpRequestPayload asks for a new code to be delivered out of band
type OtpRequestPayload struct {
	Recipient     string `json:"recipient"`
	RecipientType string `json:"recipientType"`
	SessionID     string `json:"sessionId,omitempty"`
}

// OtpRequestResponse acknowledges issuance. The code itself is never in
// the response.
type OtpRequestResponse struct {
	OtpID     string    `json:"otpId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OtpVerifyPayload submits a received code
type OtpVerifyPayload struct {
	Recipient     string `json:"recipient"`
	RecipientType string `json:"recipientType"`
	Code          string `json:"code"`
}

// OtpVerifyResponse reports a successful verification
type OtpVerifyResponse struct {
	OtpID     string  `json:"otpId"`
	AccountID *int    `json:"accountId"`
	SessionID *string `json:"sessionId"`
}

type otpErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func validChannel(channel string) bool {
	return channel == models.ChannelEmail || channel == models.ChannelSMS
}

// writeOtpError maps the typed OTP error taxonomy onto HTTP responses
func writeOtpError(w http.ResponseWriter, err error) {
	var otpErr *otp.Error
	if !errors.As(err, &otpErr) {
		log.Println("OTP: internal error:", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusBadRequest
	switch otpErr.Code {
	case otp.ErrRateLimited, otp.ErrBlocked:
		status = http.StatusTooManyRequests
	case otp.ErrNotFound:
		status = http.StatusNotFound
	case otp.ErrInvalidCode, otp.ErrMaxAttempts, otp.ErrExpired, otp.ErrAlreadyConsumed:
		status = http.StatusUnauthorized
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(otpErrorResponse{Error: string(otpErr.Code), Message: otpErr.Message})
}

// HandleOtpRequest issues a code and hands it to the delivery
// collaborator
func HandleOtpRequest(svc *otp.Service, sender mailer.Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OtpRequestPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if req.Recipient == "" || !validChannel(req.RecipientType) {
			http.Error(w, "recipient and recipientType (email|sms) are required", http.StatusBadRequest)
			return
		}

		var sessionID *string
		if req.SessionID != "" {
			sessionID = &req.SessionID
		}

		res, err := svc.Generate(r.Context(), req.Recipient, req.RecipientType, sessionID)
		if err != nil {
			writeOtpError(w, err)
			return
		}

		if err := sender.SendCode(r.Context(), req.Recipient, req.RecipientType, res.Code, res.ExpiresAt); err != nil {
			log.Println("OTP: delivery failed:", err)
			http.Error(w, "Failed to deliver code", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(OtpRequestResponse{OtpID: res.ID, ExpiresAt: res.ExpiresAt})
	}
}

// HandleOtpVerify checks a submitted code
func HandleOtpVerify(svc *otp.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OtpVerifyPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if req.Recipient == "" || !validChannel(req.RecipientType) || req.Code == "" {
			http.Error(w, "recipient, recipientType and code are required", http.StatusBadRequest)
			return
		}

		res, err := svc.Verify(r.Context(), req.Recipient, req.RecipientType, req.Code)
		if err != nil {
			writeOtpError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(OtpVerifyResponse{OtpID: res.OtpID, AccountID: res.AccountID, SessionID: res.SessionID})
	}
}
