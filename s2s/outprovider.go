/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package s2s

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/registry"
	"github.com/jackal-im/presenced/session"
	"github.com/jackal-im/presenced/streamerror"
	"github.com/jackal-im/presenced/transport"
	"github.com/jackal-im/presenced/xmpp"
	"github.com/pkg/errors"
)

// OutProvider keeps a pool of verified outgoing server streams, one per domain pair.
type OutProvider struct {
	cfg    *Config
	certs  []tls.Certificate
	reg    *registry.Registry
	keyGen *keyGen
	dialer *dialer

	mu         sync.Mutex
	outStreams map[string]*outStream
}

// NewOutProvider returns an outgoing stream provider.
func NewOutProvider(cfg *Config, certs []tls.Certificate, reg *registry.Registry) *OutProvider {
	return &OutProvider{
		cfg:        cfg,
		certs:      certs,
		reg:        reg,
		keyGen:     &keyGen{secret: cfg.Dialback.Secret},
		dialer:     newDialer(cfg.DialTimeout),
		outStreams: make(map[string]*outStream),
	}
}

// GetOut satisfies router.OutProvider interface.
// It blocks until the outgoing stream for the domain pair gets verified.
func (p *OutProvider) GetOut(ctx context.Context, localDomain, remoteDomain string) (*session.Session, error) {
	key := localDomain + ":" + remoteDomain

	p.mu.Lock()
	stm := p.outStreams[key]
	if stm == nil {
		stm = p.newOut(localDomain, remoteDomain, nil)
		stm.sess.AddCloseHook(func(_ context.Context, sess *session.Session) {
			p.reg.Unregister(sess)
		})
		stm.cfg.onDisconnect = func(s *outStream) {
			p.mu.Lock()
			if p.outStreams[key] == s {
				delete(p.outStreams, key)
			}
			p.mu.Unlock()
			log.Infof("s2s_out: unregistered stream... id: %s, domainpair: %s", s.ID(), key)
		}
		p.outStreams[key] = stm
		log.Infof("s2s_out: registered stream... id: %s, domainpair: %s", stm.ID(), key)

		go p.connect(stm)
	}
	p.mu.Unlock()

	if err := stm.waitVerified(ctx); err != nil {
		return nil, errors.Wrapf(err, "s2s: failed to connect %s", key)
	}
	if stm.sess.IsAuthenticated() {
		p.reg.Register(stm.sess)
	}
	return stm.sess, nil
}

// verifyDialbackKey opens a dedicated stream to the authoritative server of remoteDomain
// asking it to verify a key received over an incoming connection.
func (p *OutProvider) verifyDialbackKey(ctx context.Context, localDomain, remoteDomain, streamID, key string) (bool, error) {
	dbVerify := xmpp.NewElementName(dbVerifyName)
	dbVerify.SetID(streamID)
	dbVerify.SetFrom(localDomain)
	dbVerify.SetTo(remoteDomain)
	dbVerify.SetText(key)

	stm := p.newOut(localDomain, remoteDomain, dbVerify)
	go p.connect(stm)

	valid, err := stm.waitVerifyResult(ctx)
	if err != nil {
		stm.Disconnect(nil)
		return false, err
	}
	return valid, nil
}

// Shutdown closes every pooled outgoing stream.
func (p *OutProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	streams := make([]*outStream, 0, len(p.outStreams))
	for _, stm := range p.outStreams {
		streams = append(streams, stm)
	}
	p.mu.Unlock()

	for _, stm := range streams {
		stm.sess.Close(ctx, streamerror.ErrSystemShutdown)
	}
	return nil
}

func (p *OutProvider) newOut(localDomain, remoteDomain string, dbVerify xmpp.XElement) *outStream {
	return newOutStream(&outConfig{
		localDomain:  localDomain,
		remoteDomain: remoteDomain,
		tls:          p.cfg.TLS,
		tlsConfig: &tls.Config{
			ServerName:   remoteDomain,
			Certificates: p.certs,
		},
		hasCertificates: len(p.certs) > 0,
		dialback:        p.cfg.Dialback,
		keyGen:          p.keyGen,
		connectTimeout:  p.cfg.ConnectTimeout,
		keepAlive:       p.cfg.Transport.KeepAlive,
		maxStanzaSize:   p.cfg.MaxStanzaSize,
		dbVerify:        dbVerify,
	})
}

func (p *OutProvider) connect(stm *outStream) {
	conn, err := p.dialer.dial(context.Background(), stm.cfg.remoteDomain)
	if err != nil {
		log.Warnf("s2s_out: dial failed... remote: %s: %v", stm.cfg.remoteDomain, err)
		stm.fail(errors.Wrapf(err, "s2s: dial %s", stm.cfg.remoteDomain))
		return
	}
	stm.start(transport.NewSocketTransport(conn, stm.cfg.keepAlive))
}
