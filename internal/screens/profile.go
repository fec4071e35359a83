package screens

import (
	"context"
	"errors"
	"strings"

	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/navigation"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// Profile gates first-time users until they pick a nickname.
type Profile struct {
	lifecycle

	db      database.ProfileRepository
	session SessionSource
	router  *navigation.Router
	alerter Alerter
}

func NewProfile(db database.ProfileRepository, session SessionSource, router *navigation.Router, alerter Alerter) *Profile {
	return &Profile{db: db, session: session, router: router, alerter: alerter}
}

// Activate moves on to MainTabs when the user already has a nickname.
func (p *Profile) Activate(parent context.Context) error {
	ctx := p.begin(parent)

	user, err := p.session.CurrentUser(ctx)
	if err != nil {
		return err
	}
	profile, err := p.db.GetProfile(ctx, user.ID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		logger.Warn("Profile lookup failed: %v", err)
		return err
	}
	if profile.Nickname != "" && ctx.Err() == nil {
		p.router.Replace(navigation.Route{Name: navigation.MainTabs})
	}
	return nil
}

func (p *Profile) Deactivate() { p.end() }

func (p *Profile) CanSave(nickname string) bool {
	return strings.TrimSpace(nickname) != ""
}

func (p *Profile) Save(ctx context.Context, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return ErrEmptyNickname
	}

	user, err := p.session.CurrentUser(ctx)
	if err != nil {
		alert(p.alerter, "Error", errorMessage(err))
		return err
	}
	if err := p.db.UpsertProfile(ctx, &models.Profile{ID: user.ID, Nickname: nickname}); err != nil {
		alert(p.alerter, "Error", errorMessage(err))
		return err
	}

	p.router.Replace(navigation.Route{Name: navigation.MainTabs})
	p.notify()
	return nil
}
