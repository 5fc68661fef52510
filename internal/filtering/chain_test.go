package filtering

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/logger"
	"habitat/internal/registry"
)

func newTestChain(t *testing.T, verifier Verifier) (*Chain, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, RegisterBuiltins(reg))
	chain, err := NewChain(reg, verifier, logger.NopLogger())
	require.NoError(t, err)
	return chain, reg
}

func TestChainNormalFilters(t *testing.T) {
	chain, reg := newTestChain(t, nil)
	reg.MustRegister("upper", DataFilter(func(data interface{}) (interface{}, error) {
		return fmt.Sprintf("%s!", data), nil
	}))

	out := chain.Apply(context.Background(), StageIntermediate, "$$habitat;123;12:45:06*4CBB", []Descriptor{
		{Type: TypeNormal, Filter: "filters.semicolons_to_commas"},
		{Type: TypeNormal, Filter: "upper"},
	})
	assert.Equal(t, "$$habitat,123,12:45:06*7252!", out)

	post := chain.Apply(context.Background(), StagePost, map[string]interface{}{"altitude": 100}, []Descriptor{
		{Type: TypeNormal, Filter: "numeric_scale", Config: map[string]interface{}{"source": "altitude", "factor": 3.28084, "destination": "altitude_ft"}},
	})
	assert.InDelta(t, 328.084, post.(map[string]interface{})["altitude_ft"], 1e-9)
}

func TestChainFailOpen(t *testing.T) {
	chain, reg := newTestChain(t, nil)
	reg.MustRegister("broken", DataFilter(func(interface{}) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	}))
	reg.MustRegister("panics", DataFilter(func(interface{}) (interface{}, error) {
		panic("filter bug")
	}))
	reg.MustRegister("not_a_filter", 42)
	reg.MustRegister("wrong_shape", DataFilter(func(interface{}) (interface{}, error) {
		return map[string]interface{}{}, nil
	}))
	reg.MustRegister("mutate_then_fail", ConfigFilter(func(_ map[string]interface{}, data interface{}) (interface{}, error) {
		data.(map[string]interface{})["altitude"] = -1
		return nil, fmt.Errorf("gave up")
	}))

	tests := []struct {
		name   string
		stage  Stage
		filter Descriptor
		in     interface{}
	}{
		{name: "missing function", stage: StagePre, filter: Descriptor{Type: TypeNormal, Filter: "filters.does_not_exist"}, in: "$$a,b"},
		{name: "returns error", stage: StagePre, filter: Descriptor{Type: TypeNormal, Filter: "broken"}, in: "$$a,b"},
		{name: "panics", stage: StagePre, filter: Descriptor{Type: TypeNormal, Filter: "panics"}, in: "$$a,b"},
		{name: "not invokable", stage: StagePre, filter: Descriptor{Type: TypeNormal, Filter: "not_a_filter"}, in: "$$a,b"},
		{name: "wrong result shape", stage: StageIntermediate, filter: Descriptor{Type: TypeNormal, Filter: "wrong_shape"}, in: "$$a,b"},
		{name: "unknown type", stage: StagePre, filter: Descriptor{Type: "magic"}, in: "$$a,b"},
		{name: "hotfix without verifier", stage: StagePre, filter: Descriptor{Type: TypeHotfix, Code: "data", Signature: "x"}, in: "$$a,b"},
		{name: "mutation is rolled back", stage: StagePost, filter: Descriptor{Type: TypeNormal, Filter: "mutate_then_fail"}, in: map[string]interface{}{"altitude": 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := chain.Apply(context.Background(), tt.stage, tt.in, []Descriptor{tt.filter})
			assert.Equal(t, tt.in, out)
		})
	}

	t.Run("later filters still run", func(t *testing.T) {
		out := chain.Apply(context.Background(), StageIntermediate, "$$habitat;123;12:45:06*4CBB", []Descriptor{
			{Type: TypeNormal, Filter: "broken"},
			{Type: TypeNormal, Filter: "semicolons_to_commas"},
		})
		assert.Equal(t, "$$habitat,123,12:45:06*7252", out)
	})
}

func TestChainSharedSecretHotfix(t *testing.T) {
	verifier := NewHotfixVerifier(NewSharedSecretVerifier("s3cret"), nil)
	chain, _ := newTestChain(t, verifier)

	code := `data.replace(";", ",")`
	good := Descriptor{Type: TypeHotfix, Code: code, Signature: SignSharedSecret(code, "s3cret")}
	bad := Descriptor{Type: TypeHotfix, Code: code, Signature: SignSharedSecret(code, "guess")}
	tampered := Descriptor{Type: TypeHotfix, Code: `data + "!"`, Signature: good.Signature}
	noCode := Descriptor{Type: TypeHotfix, Signature: good.Signature}
	badExpr := Descriptor{Type: TypeHotfix, Code: `data +`, Signature: SignSharedSecret(`data +`, "s3cret")}

	assert.Equal(t, "$$a,b", chain.Apply(context.Background(), StagePre, "$$a;b", []Descriptor{good}))
	assert.Equal(t, "$$a;b", chain.Apply(context.Background(), StagePre, "$$a;b", []Descriptor{bad}))
	assert.Equal(t, "$$a;b", chain.Apply(context.Background(), StagePre, "$$a;b", []Descriptor{tampered}))
	assert.Equal(t, "$$a;b", chain.Apply(context.Background(), StagePre, "$$a;b", []Descriptor{noCode}))
	assert.Equal(t, "$$a;b", chain.Apply(context.Background(), StagePre, "$$a;b", []Descriptor{badExpr}))

	post := `set(data, "altitude", data.altitude * 2)`
	out := chain.Apply(context.Background(), StagePost, map[string]interface{}{"altitude": 21}, []Descriptor{
		{Type: TypeHotfix, Code: post, Signature: SignSharedSecret(post, "s3cret")},
	})
	assert.Equal(t, int64(42), out.(map[string]interface{})["altitude"])
}

func TestSharedSecretVerifierRequiresSecret(t *testing.T) {
	err := NewSharedSecretVerifier("").Verify(Descriptor{Code: "data", Signature: SignSharedSecret("data", "")})
	assert.Error(t, err)
}

type testPKI struct {
	dir     string
	caKey   *rsa.PrivateKey
	caCert  *x509.Certificate
	devKey  *rsa.PrivateKey
	rogueID string
}

func writePEM(t *testing.T, path string, der []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "habitat test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)
	writePEM(t, filepath.Join(dir, "ca", "ca.crt"), caDER)

	devKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	devTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "developer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	devDER, err := x509.CreateCertificate(rand.Reader, devTemplate, caCert, &devKey.PublicKey, caKey)
	require.NoError(t, err)
	writePEM(t, filepath.Join(dir, "certs", "dev.crt"), devDER)

	rogueTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "rogue"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	rogueDER, err := x509.CreateCertificate(rand.Reader, rogueTemplate, rogueTemplate, &devKey.PublicKey, devKey)
	require.NoError(t, err)
	writePEM(t, filepath.Join(dir, "certs", "rogue.crt"), rogueDER)

	return &testPKI{dir: dir, caKey: caKey, caCert: caCert, devKey: devKey, rogueID: "rogue.crt"}
}

func TestCertificateVerifier(t *testing.T) {
	pki := newTestPKI(t)
	verifier, err := NewCertificateVerifier(pki.dir)
	require.NoError(t, err)

	code := `data.replace(";", ",")`
	sig, err := SignWithKey(code, pki.devKey)
	require.NoError(t, err)

	tests := []struct {
		name    string
		d       Descriptor
		wantErr bool
	}{
		{name: "valid", d: Descriptor{Code: code, Signature: sig, Certificate: "dev.crt"}},
		{name: "tampered code", d: Descriptor{Code: code + " ", Signature: sig, Certificate: "dev.crt"}, wantErr: true},
		{name: "signature not base64", d: Descriptor{Code: code, Signature: "!!!", Certificate: "dev.crt"}, wantErr: true},
		{name: "path traversal", d: Descriptor{Code: code, Signature: sig, Certificate: "../ca/ca.crt"}, wantErr: true},
		{name: "nested path", d: Descriptor{Code: code, Signature: sig, Certificate: "sub/dev.crt"}, wantErr: true},
		{name: "missing certificate", d: Descriptor{Code: code, Signature: sig, Certificate: "nobody.crt"}, wantErr: true},
		{name: "not issued by a trusted CA", d: Descriptor{Code: code, Signature: sig, Certificate: pki.rogueID}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifier.Verify(tt.d)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("certificates are cached", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(pki.dir, "certs", "dev.crt")))
		assert.NoError(t, verifier.Verify(Descriptor{Code: code, Signature: sig, Certificate: "dev.crt"}))
	})
}

func TestCertificateVerifierRejectsNonCA(t *testing.T) {
	pki := newTestPKI(t)

	devDER, err := os.ReadFile(filepath.Join(pki.dir, "certs", "dev.crt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pki.dir, "ca", "dev.crt"), devDER, 0o644))

	_, err = NewCertificateVerifier(pki.dir)
	assert.Error(t, err)

	_, err = NewCertificateVerifier(filepath.Join(pki.dir, "missing"))
	assert.Error(t, err)
}

func TestChainCertificateHotfix(t *testing.T) {
	pki := newTestPKI(t)
	certs, err := NewCertificateVerifier(pki.dir)
	require.NoError(t, err)
	chain, _ := newTestChain(t, NewHotfixVerifier(nil, certs))

	code := `data.upperAscii()`
	sig, err := SignWithKey(code, pki.devKey)
	require.NoError(t, err)

	out := chain.Apply(context.Background(), StagePre, "$$abc,1", []Descriptor{
		{Type: TypeHotfix, Code: code, Signature: sig, Certificate: "dev.crt"},
	})
	assert.Equal(t, "$$ABC,1", out)

	out = chain.Apply(context.Background(), StagePre, "$$abc,1", []Descriptor{
		{Type: TypeHotfix, Code: code, Signature: SignSharedSecret(code, "x")},
	})
	assert.Equal(t, "$$abc,1", out, "shared secret scheme is not configured")
}
