/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const localhostDomain = "localhost"

const selfSignedCertKeyRSABits = 2048

// SelfSignedCertFolder is the directory where localhost self signed certificates are kept.
var SelfSignedCertFolder = "./.cert/"

// LoadCertificate loads a certificate given a private key and certificate PEM files.
// Only in case the associated domain is localhost and no files are specified
// a self signed certificate will be automatically generated.
func LoadCertificate(keyFile, certFile, domain string) (tls.Certificate, error) {
	if len(certFile) == 0 || len(keyFile) == 0 {
		if domain != localhostDomain {
			return tls.Certificate{}, errors.Errorf("must specify a private key and a server certificate for the domain '%s'", domain)
		}
		keyFile = filepath.Join(SelfSignedCertFolder, "key.pem")
		certFile = filepath.Join(SelfSignedCertFolder, "cert.pem")
		if !fileExists(keyFile) || !fileExists(certFile) {
			if err := GenerateSelfSignedCertificate(keyFile, certFile, domain); err != nil {
				return tls.Certificate{}, err
			}
		}
	}
	cer, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(err, "util: failed to load certificate for '%s'", domain)
	}
	return cer, nil
}

// GenerateSelfSignedCertificate writes a new self signed key pair for domain.
func GenerateSelfSignedCertificate(keyFile, certFile, domain string) error {
	if err := os.MkdirAll(filepath.Dir(certFile), os.ModePerm); err != nil {
		return err
	}
	notBefore := time.Now()
	notAfter := notBefore.Add(1825 * 24 * time.Hour)

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return err
	}
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{domain},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{domain},
	}
	priv, err := rsa.GenerateKey(rand.Reader, selfSignedCertKeyRSABits)
	if err != nil {
		return err
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return err
	}
	certOut, err := os.Create(certFile)
	if err != nil {
		return err
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return err
	}
	keyOut, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer keyOut.Close()
	return pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
