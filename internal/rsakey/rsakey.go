package rsakey

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Публичный RSA-ключ оператора. Живет один логин: на каждую попытку
// запрашивается заново и между логинами не кешируется.

type Source string

const (
	SourceAPI       Source = "api"
	SourceLoginPage Source = "login_page"
)

var (
	ErrKeyMaterialInvalid   = errors.New("rsa key material invalid")
	ErrKeyAcquisitionFailed = errors.New("rsa key acquisition failed")
)

type KeyMaterial struct {
	Modulus    string
	Exponent   string
	Source     Source
	AcquiredAt time.Time
}

type rsaModulusResponse struct {
	Data struct {
		RsaModulus     string `json:"rsaModulus"`
		PublicExponent string `json:"publicExponent"`
	} `json:"data"`
}

var (
	modulusRe  = regexp.MustCompile(`var\s+rsaModulus\s*=\s*'([a-fA-F0-9]+)'`)
	exponentRe = regexp.MustCompile(`var\s+publicExponent\s*=\s*'([a-fA-F0-9]+)'`)
)

// Acquire получает ключ: сначала выделенный вызов, при неудаче -
// разбор разметки страницы логина. Обе неудачи фатальны для текущей
// попытки логина, внутри попытки не повторяется.
func Acquire(ctx context.Context, rc *resty.Client, zaplog *zap.Logger) (KeyMaterial, error) {
	km, err := acquireAPI(ctx, rc)
	if err == nil {
		zaplog.Info("rsa key fetched from api")
		return km, nil
	}
	zaplog.Warn("api rsa key fetch failed, trying login page", zap.Error(err))

	km, err = acquireLoginPage(ctx, rc)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", ErrKeyAcquisitionFailed, err)
	}
	zaplog.Info("rsa key parsed from login page")
	return km, nil
}

func acquireAPI(ctx context.Context, rc *resty.Client) (KeyMaterial, error) {
	resp, err := rc.R().
		SetContext(ctx).
		Get("/login/selectRsaModulus.do")
	if err != nil {
		return KeyMaterial{}, err
	}
	if resp.StatusCode() != http.StatusOK {
		return KeyMaterial{}, fmt.Errorf("rsa modulus request status: %d", resp.StatusCode())
	}

	var answer rsaModulusResponse
	if err := json.Unmarshal(resp.Body(), &answer); err != nil {
		return KeyMaterial{}, err
	}
	if answer.Data.RsaModulus == "" || answer.Data.PublicExponent == "" {
		return KeyMaterial{}, errors.New("rsa key fields missing in response")
	}

	return KeyMaterial{
		Modulus:    answer.Data.RsaModulus,
		Exponent:   answer.Data.PublicExponent,
		Source:     SourceAPI,
		AcquiredAt: time.Now(),
	}, nil
}

func acquireLoginPage(ctx context.Context, rc *resty.Client) (KeyMaterial, error) {
	resp, err := rc.R().
		SetContext(ctx).
		Get("/login")
	if err != nil {
		return KeyMaterial{}, err
	}
	if resp.StatusCode() != http.StatusOK {
		return KeyMaterial{}, fmt.Errorf("login page request status: %d", resp.StatusCode())
	}

	html := resp.String()
	modulusMatch := modulusRe.FindStringSubmatch(html)
	exponentMatch := exponentRe.FindStringSubmatch(html)
	if modulusMatch == nil || exponentMatch == nil {
		return KeyMaterial{}, errors.New("rsa key not found in login page")
	}

	return KeyMaterial{
		Modulus:    modulusMatch[1],
		Exponent:   exponentMatch[1],
		Source:     SourceLoginPage,
		AcquiredAt: time.Now(),
	}, nil
}

// Encrypt шифрует строку учетных данных по PKCS#1 v1.5,
// результат - hex, как того ждет форма логина оператора.
func Encrypt(km KeyMaterial, plaintext string) (string, error) {
	pub, err := publicKey(km)
	if err != nil {
		return "", err
	}

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyMaterialInvalid, err)
	}
	return hex.EncodeToString(ciphertext), nil
}

func publicKey(km KeyMaterial) (*rsa.PublicKey, error) {
	n, ok := new(big.Int).SetString(km.Modulus, 16)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("%w: bad modulus", ErrKeyMaterialInvalid)
	}
	e, ok := new(big.Int).SetString(km.Exponent, 16)
	if !ok || !e.IsInt64() || e.Int64() < 3 {
		return nil, fmt.Errorf("%w: bad exponent", ErrKeyMaterialInvalid)
	}
	// меньше 512 бит оператор не выдает, такой ключ - мусор из разметки
	if n.BitLen() < 512 {
		return nil, fmt.Errorf("%w: modulus too short", ErrKeyMaterialInvalid)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
