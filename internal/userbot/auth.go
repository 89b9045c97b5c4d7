package userbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// ErrSignupNotSupported indicates that signup is not supported.
var ErrSignupNotSupported = errors.New("signup not supported")

const minPhoneLength = 10

// terminal answers login prompts from the config or stdin.
type terminal struct {
	c *Client
}

func (c *Client) authFlow() auth.Flow {
	return auth.NewFlow(terminal{c: c}, auth.SendCodeOptions{})
}

func (t terminal) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return prompt("Enter code: ")
}

func (t terminal) Phone(_ context.Context) (string, error) {
	phone := t.c.cfg.TGPhone
	if phone == "" {
		var err error

		if phone, err = prompt("Enter phone: "); err != nil {
			return "", err
		}
	}

	phone = sanitizePhone(phone)
	t.c.logger.Info().Str("phone", maskPhone(phone)).Msg("Using phone number")

	if len(phone) < minPhoneLength {
		t.c.logger.Warn().Int("length", len(phone)).Msg("Phone number seems too short, include the country code (e.g. +1...)")
	}

	return phone, nil
}

func (t terminal) Password(_ context.Context) (string, error) {
	if t.c.cfg.TG2FAPassword != "" {
		return strings.TrimSpace(t.c.cfg.TG2FAPassword), nil
	}

	return prompt("Enter 2FA password: ")
}

func (terminal) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (terminal) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, ErrSignupNotSupported
}

func prompt(label string) (string, error) {
	fmt.Print(label)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	return strings.TrimSpace(line), nil
}

func sanitizePhone(phone string) string {
	var sb strings.Builder

	phone = strings.TrimSpace(phone)

	if strings.HasPrefix(phone, "+") {
		sb.WriteByte('+')

		phone = phone[1:]
	}

	for _, char := range phone {
		if char >= '0' && char <= '9' {
			sb.WriteRune(char)
		}
	}

	return sb.String()
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return "****"
	}

	return phone[:3] + "****" + phone[len(phone)-2:]
}
