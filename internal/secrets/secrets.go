// Package secrets fills credentials from AWS SSM Parameter Store so they
// do not have to sit in the process environment.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/pipeline-web/internal/cfg"
	"github.com/keithlinneman/pipeline-web/internal/log"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

// ParameterGetter is the part of *ssm.Client the resolver needs.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Params names the SSM parameters to read. Empty names are skipped.
type Params struct {
	CookieSecret  string
	RedisPassword string
}

func (p Params) Empty() bool { return p.CookieSecret == "" && p.RedisPassword == "" }

type Resolver struct {
	client ParameterGetter
	logger log.Logger
}

func NewResolver(client ParameterGetter, L log.Logger) *Resolver {
	if L == nil {
		L = log.Nop()
	}
	return &Resolver{client: client, logger: L}
}

// NewSSMResolver builds a resolver on the default AWS credential chain.
func NewSSMResolver(ctx context.Context, L log.Logger) (*Resolver, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	return NewResolver(ssm.NewFromConfig(awsCfg), L), nil
}

// Get returns the decrypted, trimmed value of a parameter.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

// Apply overwrites the fields of env named in p. env is left untouched on
// error.
func (r *Resolver) Apply(ctx context.Context, p Params, env *cfg.Environment) error {
	next := *env
	for _, f := range []struct {
		param string
		field string
		dst   *string
	}{
		{p.CookieSecret, "COOKIE_SECRET", &next.CookieSecret},
		{p.RedisPassword, "REDIS_PASSWORD", &next.RedisPassword},
	} {
		if f.param == "" {
			continue
		}
		v, err := r.Get(ctx, f.param)
		if err != nil {
			return err
		}
		*f.dst = v
		r.logger.Info(ctx, "secret loaded from SSM", "field", f.field, "param", f.param)
	}
	*env = next
	return nil
}
