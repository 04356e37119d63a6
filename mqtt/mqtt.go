// Package mqtt publishes mess outcomes to a broker so off-box listeners
// (dashboards, wardens' consoles) can follow entries live. Entirely
// optional: with no host configured every call is a no-op.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config holds MQTT broker connection settings.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// Handlers holds callback functions for connection events.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
}

// Publisher wraps the paho client with the terminal's topic layout.
type Publisher struct {
	client       paho.Client
	clientID     string
	enabled      bool
	onConnect    func()
	onDisconnect func()
}

// New creates a publisher. Returns a disabled no-op publisher if host is
// empty.
func New(cfg Config, clientID string, handlers Handlers) (*Publisher, error) {
	p := &Publisher{
		clientID:     clientID,
		onConnect:    handlers.OnConnect,
		onDisconnect: handlers.OnDisconnect,
	}

	if cfg.Host == "" {
		log.Println("mqtt: disabled (no host configured)")
		return p, nil
	}
	p.enabled = true

	var broker string
	var tlsConfig *tls.Config

	if cfg.CACert != "" || cfg.ClientCert != "" {
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)
		var err error
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("mqtt: build TLS config: %w", err)
		}
	} else {
		if cfg.Port == 0 {
			cfg.Port = 1883
		}
		broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
		log.Println("mqtt: using non-TLS connection")
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(p.handleConnectionLost).
		SetOnConnectHandler(p.handleConnect)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	p.client = paho.NewClient(opts)

	paho.ERROR = log.New(os.Stdout, "[MQTT ERROR] ", 0)
	paho.CRITICAL = log.New(os.Stdout, "[MQTT CRIT] ", 0)
	paho.WARN = log.New(os.Stdout, "[MQTT WARN] ", 0)

	return p, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		caPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect connects to the broker. No-op when disabled; the OnConnect
// handler still fires so callers see a consistent lifecycle.
func (p *Publisher) Connect() error {
	if !p.enabled {
		if p.onConnect != nil {
			p.onConnect()
		}
		return nil
	}
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect: %w", token.Error())
	}
	return nil
}

// Disconnect disconnects from the broker. No-op when disabled.
func (p *Publisher) Disconnect() {
	if !p.enabled || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}

// IsEnabled reports whether a broker is configured.
func (p *Publisher) IsEnabled() bool { return p.enabled }

// PublishOutcome sends one outcome to mess/status/<client>/entry. Fire and
// forget at QoS 0; a broken broker never blocks a tap.
func (p *Publisher) PublishOutcome(outcome interface{}) {
	if !p.enabled {
		return
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		log.Printf("mqtt: marshal outcome: %v", err)
		return
	}
	topic := fmt.Sprintf("mess/status/%s/entry", p.clientID)
	p.client.Publish(topic, 0, false, payload)
}

// Ping publishes a liveness message on mess/status/<client>/ping.
func (p *Publisher) Ping() {
	if !p.enabled {
		return
	}
	topic := fmt.Sprintf("mess/status/%s/ping", p.clientID)
	p.client.Publish(topic, 0, false, `{"status":"ok"}`)
}

func (p *Publisher) handleConnect(paho.Client) {
	log.Println("mqtt: connected")
	if p.onConnect != nil {
		p.onConnect()
	}
}

func (p *Publisher) handleConnectionLost(_ paho.Client, err error) {
	log.Printf("mqtt: connection lost: %v", err)
	if p.onDisconnect != nil {
		p.onDisconnect()
	}
}
