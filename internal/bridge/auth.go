package bridge

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"go2tv.app/tvlink/internal/protocol"
	"go2tv.app/tvlink/internal/session"
)

var errPairingCode = errors.New("pairing code rejected")

func (b *Bridge) authorize(code string) error {
	if len(b.codeHash) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(b.codeHash, []byte(code)); err != nil {
		return commandError(CodeUnauthorized, errPairingCode.Error(), nil)
	}
	return nil
}

// login restores the cookie (when the token is a cookie descriptor) and then
// signs in. The session is untouched unless every step succeeds.
func (b *Bridge) login(ctx context.Context, p protocol.LoginPayload) error {
	if err := b.authorize(p.PairingCode); err != nil {
		return err
	}
	cred, err := session.ParseCredential(p.Token)
	if err != nil {
		return commandError(CodeInvalidCredential, "", err)
	}
	if p.User == nil {
		return commandError(CodeSignInFailed, "user is missing", session.ErrMissingUser)
	}

	var restored *session.Cookie
	if cred.Cookie != nil && b.cookies != nil {
		cookie := *cred.Cookie
		if cookie.Name == "" {
			cookie.Name = b.cookie.Name
		}
		if cookie.Domain == "" {
			cookie.Domain = b.cookie.Domain
		}
		if cookie.Path == "" {
			cookie.Path = b.cookie.Path
		}
		if err := b.cookies.Set(ctx, b.cookie.URL, cookie); err != nil {
			return commandError(CodeSignInFailed, "restore cookie", err)
		}
		restored = &cookie
	}

	err = b.session.SignIn(ctx, session.SignInParams{
		Token:           cred.Value,
		User:            p.User,
		TokenExpiration: cred.Expires,
	})
	if err != nil {
		if restored != nil {
			b.withdrawCookie(ctx, *restored)
		}
		return commandError(CodeSignInFailed, "", err)
	}
	b.log(slog.LevelInfo, "bridge_login_succeeded", slog.String("user_id", p.User.ID))
	return nil
}

// withdrawCookie expires a cookie restored for a sign-in that then failed.
func (b *Bridge) withdrawCookie(ctx context.Context, c session.Cookie) {
	c.Value = ""
	c.Expires = nil
	c.MaxAge = -1
	if err := b.cookies.Set(context.WithoutCancel(ctx), b.cookie.URL, c); err != nil {
		b.log(slog.LevelWarn, "bridge_cookie_withdraw_failed", slog.String("error", err.Error()))
	}
}

func (b *Bridge) logout(ctx context.Context, p protocol.LogoutPayload) error {
	if err := b.authorize(p.PairingCode); err != nil {
		return err
	}
	if b.cookies != nil {
		if err := b.cookies.ClearAll(ctx); err != nil {
			return commandError(CodeSignOutFailed, "clear cookies", err)
		}
	}
	if err := b.session.SignOut(ctx); err != nil {
		return commandError(CodeSignOutFailed, "", err)
	}
	b.log(slog.LevelInfo, "bridge_logout_succeeded")
	return nil
}
