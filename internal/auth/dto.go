package auth

import (
	"encoding/json"
	"errors"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type passcodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type verifyPasscodeRequest struct {
	OTP   Passcode `json:"otp" validate:"required,passcode"`
	Email string   `json:"email" validate:"required,email,max=254"`
}

type registerResponse struct {
	Message string `json:"message"`
	User    *User  `json:"user"`
}

type tokenResponse struct {
	Message string `json:"message,omitempty"`
	Token   string `json:"token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type meResponse struct {
	User *User `json:"user"`
}

var errPasscodeType = errors.New("otp must be a string or an unsigned integer")

// Passcode is a passcode as sent by clients, either a JSON string or a JSON
// number.
type Passcode string

// UnmarshalJSON accepts "123456" and 123456.
func (p *Passcode) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Passcode(s)
		return nil
	}
	for _, c := range data {
		if c < '0' || c > '9' {
			return errPasscodeType
		}
	}
	*p = Passcode(data)
	return nil
}
