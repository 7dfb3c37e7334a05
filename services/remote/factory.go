package remote

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
)

// Factory builds protocol clients. One factory serves all accounts; the
// protocol kind on the account picks the client.
type Factory struct {
	creds interfaces.CredentialStore
}

func NewFactory(creds interfaces.CredentialStore) *Factory {
	return &Factory{creds: creds}
}

func (f *Factory) NewSession(ctx context.Context, account *models.Account) (interfaces.RemoteSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "remote.Factory.NewSession")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("protocol", account.Protocol.String())

	creds, err := f.creds.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, interfaces.NewRemoteError(interfaces.ErrorAuth, fmt.Sprintf("failed to resolve credentials: %v", err))
	}

	switch account.Protocol {
	case enum.ProtocolEAS:
		return newEASSession(ctx, account, creds)
	case enum.ProtocolIMAP:
		return newIMAPSession(ctx, account, creds)
	case enum.ProtocolPOP3:
		return newPOP3Session(ctx, account, creds)
	default:
		err := errors.Errorf("unsupported protocol %s", account.Protocol)
		tracing.TraceErr(span, err)
		return nil, err
	}
}

// EnvCredentialStore resolves references against the process environment:
// reference "r" maps to MAILCORE_SECRET_R holding "username:password".
// Deployments with a real secret manager supply their own store.
type EnvCredentialStore struct{}

func NewEnvCredentialStore() *EnvCredentialStore {
	return &EnvCredentialStore{}
}

func (s *EnvCredentialStore) Resolve(ctx context.Context, ref string) (interfaces.Credentials, error) {
	if ref == "" {
		return interfaces.Credentials{}, errors.New("empty credential reference")
	}

	key := "MAILCORE_SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(ref))
	raw, ok := os.LookupEnv(key)
	if !ok {
		return interfaces.Credentials{}, errors.Errorf("credential reference %s not found", ref)
	}

	username, password, found := strings.Cut(raw, ":")
	if !found || username == "" {
		return interfaces.Credentials{}, errors.Errorf("credential reference %s is malformed", ref)
	}
	return interfaces.Credentials{Username: username, Password: password}, nil
}
