package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/pipeline-web/internal/cfg"
)

type fakeSSM struct {
	values map[string]*string
	err    error
	calls  []string
	crypt  []bool
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	f.calls = append(f.calls, name)
	f.crypt = append(f.crypt, aws.ToBool(in.WithDecryption))
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[name]
	if !ok {
		return nil, &types.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: v}}, nil
}

func TestGet(t *testing.T) {
	f := &fakeSSM{values: map[string]*string{
		"/app/secret": aws.String("  s3cret\n"),
		"/app/blank":  aws.String("   "),
		"/app/nil":    nil,
	}}
	r := NewResolver(f, nil)
	ctx := context.Background()

	v, err := r.Get(ctx, "/app/secret")
	if err != nil || v != "s3cret" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	if !f.crypt[0] {
		t.Fatal("parameters must be read with decryption")
	}
	for _, name := range []string{"/app/blank", "/app/nil", "/app/missing"} {
		if _, err := r.Get(ctx, name); err == nil {
			t.Errorf("Get(%s) should fail", name)
		}
	}
}

func TestApply(t *testing.T) {
	f := &fakeSSM{values: map[string]*string{
		"/app/cookie": aws.String("from-ssm"),
		"/app/redis":  aws.String("redis-pw"),
	}}
	env := cfg.Environment{CookieSecret: "from-env", RedisPassword: "env-pw"}

	err := NewResolver(f, nil).Apply(context.Background(), Params{CookieSecret: "/app/cookie", RedisPassword: "/app/redis"}, &env)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if env.CookieSecret != "from-ssm" || env.RedisPassword != "redis-pw" {
		t.Fatalf("env = %+v", env)
	}
}

func TestApply_SkipsUnnamed(t *testing.T) {
	f := &fakeSSM{values: map[string]*string{"/app/cookie": aws.String("from-ssm")}}
	env := cfg.Environment{RedisPassword: "env-pw"}

	if err := NewResolver(f, nil).Apply(context.Background(), Params{CookieSecret: "/app/cookie"}, &env); err != nil {
		t.Fatal(err)
	}
	if env.RedisPassword != "env-pw" || len(f.calls) != 1 {
		t.Fatalf("env = %+v calls = %v", env, f.calls)
	}
	if !(Params{}).Empty() || (Params{RedisPassword: "x"}).Empty() {
		t.Fatal("Empty")
	}
}

func TestApply_ErrorLeavesEnvUntouched(t *testing.T) {
	f := &fakeSSM{values: map[string]*string{"/app/cookie": aws.String("from-ssm")}}
	env := cfg.Environment{CookieSecret: "from-env", RedisPassword: "env-pw"}

	err := NewResolver(f, nil).Apply(context.Background(), Params{CookieSecret: "/app/cookie", RedisPassword: "/app/missing"}, &env)
	if err == nil {
		t.Fatal("missing parameter should fail")
	}
	if env.CookieSecret != "from-env" {
		t.Fatalf("env changed on error: %+v", env)
	}

	f.err = errors.New("throttled")
	if err := NewResolver(f, nil).Apply(context.Background(), Params{CookieSecret: "/app/cookie"}, &env); err == nil {
		t.Fatal("client error should surface")
	}
}
