package account

import (
	"context"
	"log"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/repository"
	"github.com/glidemail/mailcore/internal/tracing"
	"github.com/glidemail/mailcore/services/session"
)

// Service manages account lifecycle. Accounts are verified against the
// server before they are persisted; deleting an account removes every row
// derived from it.
type Service struct {
	repos    *repository.Repositories
	factory  interfaces.SessionFactory
	sessions *session.Cache
}

func NewService(repos *repository.Repositories, factory interfaces.SessionFactory, sessions *session.Cache) *Service {
	return &Service{
		repos:    repos,
		factory:  factory,
		sessions: sessions,
	}
}

// CreateAccount probes the server with the supplied configuration and
// persists the account only on success. A misconfigured account in the
// database would fail on every sync cycle.
func (s *Service) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.CreateAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("account.email", account.Email)

	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.Email == "" || account.CredentialsRef == "" || account.ServerHost == "" {
		return nil, repository.ErrInvalidInput
	}

	if existing, err := s.repos.AccountRepository.GetByEmail(ctx, account.Email); err == nil {
		log.Printf("[%s] Account for %s already exists", existing.ID, account.Email)
		return nil, errors.Errorf("account for %s already exists", account.Email)
	} else if err != repository.ErrAccountNotFound {
		tracing.TraceErr(span, err)
		return nil, err
	}

	sess, err := s.factory.NewSession(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to connect with supplied configuration")
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			log.Printf("Error closing probe session for %s: %v", account.Email, closeErr)
		}
	}()

	if err := sess.Probe(ctx); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "server probe failed")
	}

	id, err := s.repos.AccountRepository.Create(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	account.ID = id

	log.Printf("[%s] Created account for %s (%s)", account.ID, account.Email, account.Protocol)
	return account, nil
}

// UpdateCredentials rotates the account's credential reference and TLS pin,
// then invalidates the cached session so the next operation reconnects with
// the new configuration.
func (s *Service) UpdateCredentials(ctx context.Context, accountID, credentialsRef, tlsPin string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.UpdateCredentials")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if credentialsRef == "" {
		return repository.ErrInvalidInput
	}

	account, err := s.repos.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	account.CredentialsRef = credentialsRef
	account.TLSPinSHA256 = tlsPin
	if err := s.repos.AccountRepository.Update(ctx, account); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.sessions.Invalidate(accountID)
	log.Printf("[%s] Rotated credentials", accountID)
	return nil
}

// DeleteAccount removes the account and everything synchronized under it:
// folders, messages, events, notes, sync state and tombstones.
func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.DeleteAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if _, err := s.repos.AccountRepository.GetByID(ctx, accountID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.sessions.Invalidate(accountID)

	for _, purge := range []func(context.Context, string) error{
		s.repos.MessageRepository.DeleteByAccount,
		s.repos.FolderRepository.DeleteByAccount,
		s.repos.CalendarEventRepository.DeleteByAccount,
		s.repos.NoteRepository.DeleteByAccount,
		s.repos.SyncStateRepository.DeleteByAccount,
		s.repos.TombstoneRepository.DeleteByAccount,
	} {
		if err := purge(ctx, accountID); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	if err := s.repos.AccountRepository.Delete(ctx, accountID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	log.Printf("[%s] Deleted account and synchronized data", accountID)
	return nil
}
