// Package droplet implements a container backend over DigitalOcean
// droplets. Unlike a system container, a droplet has no local
// process-attach primitive, so RunnerHandle.Run is carried over SSH.
package droplet

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/digitalocean/godo"
	"golang.org/x/crypto/ssh"
	"golang.org/x/oauth2"

	"github.com/octoling/octoling/internal/provider"
)

// runnerTag marks every droplet this backend creates, letting the
// reaper (and ListRunnerIDs) find them without a side index.
const runnerTag = "octoling-runner"

// Config configures a Backend.
type Config struct {
	Token           string
	Region          string // defaults to "nyc3"
	Size            string // defaults to "s-1vcpu-2gb"
	SSHFingerprints []string
	SSHSigner       ssh.Signer // private key used to dial the droplet once booted
	SSHUser         string     // defaults to "root"
}

// Backend drives containers as DigitalOcean droplets. Runner_id doubles
// as the droplet name; Create looks for an existing tagged droplet of
// that name first, matching the "fail if already defined" contract.
type Backend struct {
	client  *godo.Client
	region  string
	size    string
	keys    []godo.DropletCreateSSHKey
	signer  ssh.Signer
	sshUser string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-runner_id lock, since one client serves many concurrent droplets
}

// New constructs a Backend from cfg.
func New(cfg Config) *Backend {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	client := godo.NewClient(tc)

	region := cfg.Region
	if region == "" {
		region = "nyc3"
	}
	size := cfg.Size
	if size == "" {
		size = "s-1vcpu-2gb"
	}
	sshUser := cfg.SSHUser
	if sshUser == "" {
		sshUser = "root"
	}

	var keys []godo.DropletCreateSSHKey
	for _, fp := range cfg.SSHFingerprints {
		keys = append(keys, godo.DropletCreateSSHKey{Fingerprint: fp})
	}

	return &Backend{
		client:  client,
		region:  region,
		size:    size,
		keys:    keys,
		signer:  cfg.SSHSigner,
		sshUser: sshUser,
		locks:   map[string]*sync.Mutex{},
	}
}

func (b *Backend) lockFor(runnerID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[runnerID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[runnerID] = l
	}
	return l
}

func (b *Backend) findByName(ctx context.Context, runnerID string) (*godo.Droplet, error) {
	opt := &godo.ListOptions{PerPage: 200}
	droplets, _, err := b.client.Droplets.ListByTag(ctx, runnerTag, opt)
	if err != nil {
		return nil, err
	}
	for i := range droplets {
		if droplets[i].Name == runnerID {
			return &droplets[i], nil
		}
	}
	return nil, nil
}

// Create spins up a new droplet named runnerID. The image_spec here
// names a DigitalOcean image slug directly: any non-empty string is
// accepted (there is no template:dist:release:arch structure to parse
// for a cloud image), so the only InvalidImage case is an empty spec.
func (b *Backend) Create(ctx context.Context, image provider.ImageSpec, runnerID string) (provider.RunnerHandle, error) {
	lock := b.lockFor(runnerID)
	lock.Lock()
	defer lock.Unlock()

	if image.ImageSpecString == "" {
		return nil, provider.InvalidImage("image_spec must name a DigitalOcean image slug")
	}

	existing, err := b.findByName(ctx, runnerID)
	if err != nil {
		return nil, provider.Unknown(err)
	}
	if existing != nil {
		return nil, provider.RunnerCreationFailed(fmt.Errorf("droplet %s already defined", runnerID))
	}

	createReq := &godo.DropletCreateRequest{
		Name:   runnerID,
		Region: b.region,
		Size:   b.size,
		Image:  godo.DropletCreateImage{Slug: image.ImageSpecString},
		SSHKeys: b.keys,
		Tags:    []string{runnerTag},
	}

	droplet, _, err := b.client.Droplets.Create(ctx, createReq)
	if err != nil {
		return nil, provider.RunnerCreationFailed(err)
	}

	return &handle{backend: b, runnerID: runnerID, dropletID: droplet.ID}, nil
}

// Get returns a handle to an existing droplet.
func (b *Backend) Get(ctx context.Context, runnerID string) (provider.RunnerHandle, error) {
	d, err := b.findByName(ctx, runnerID)
	if err != nil {
		return nil, provider.Unknown(err)
	}
	if d == nil {
		return nil, provider.RunnerNotFound()
	}
	return &handle{backend: b, runnerID: runnerID, dropletID: d.ID}, nil
}

// Destroy removes the droplet. DigitalOcean droplets have no separate
// stop-then-remove step from the API's point of view; Delete tears the
// instance down directly.
func (b *Backend) Destroy(ctx context.Context, runnerID string) error {
	lock := b.lockFor(runnerID)
	lock.Lock()
	defer lock.Unlock()

	d, err := b.findByName(ctx, runnerID)
	if err != nil {
		return provider.Unknown(err)
	}
	if d == nil {
		return provider.RunnerNotFound()
	}
	if _, err := b.client.Droplets.Delete(ctx, d.ID); err != nil {
		return provider.RunnerDestructionFailed(err)
	}
	return nil
}

// ListRunnerIDs implements provider.Lister for the stale-runner reaper.
func (b *Backend) ListRunnerIDs(ctx context.Context) (map[string]provider.CreatedAt, error) {
	opt := &godo.ListOptions{PerPage: 200}
	droplets, _, err := b.client.Droplets.ListByTag(ctx, runnerTag, opt)
	if err != nil {
		return nil, fmt.Errorf("droplet: list by tag: %w", err)
	}
	out := make(map[string]provider.CreatedAt, len(droplets))
	for _, d := range droplets {
		created, err := time.Parse(time.RFC3339, d.Created)
		if err != nil {
			continue
		}
		out[d.Name] = created
	}
	return out, nil
}

type handle struct {
	backend   *Backend
	runnerID  string
	dropletID int
}

func (h *handle) ID() string { return h.runnerID }

// Start waits for the droplet to report an active public IPv4 address
// and completes an SSH handshake. DigitalOcean droplets boot
// immediately on creation, so this is the closest equivalent to
// "transition to running state" a cloud instance offers.
func (h *handle) Start(ctx context.Context) error {
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		d, _, err := h.backend.client.Droplets.Get(ctx, h.dropletID)
		if err == nil && d.Status == "active" {
			if ip, err := d.PublicIPv4(); err == nil && ip != "" {
				if client, err := h.dial(ctx); err == nil {
					client.Close()
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return provider.RunnerStartFailed(ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	return provider.RunnerStartFailed(fmt.Errorf("droplet %d did not become reachable in time", h.dropletID))
}

// Stop is a no-op: the droplet API has no separate power-off step this
// backend exercises before Destroy removes the instance outright.
func (h *handle) Stop(ctx context.Context) error {
	return nil
}

func (h *handle) dial(ctx context.Context) (*ssh.Client, error) {
	d, _, err := h.backend.client.Droplets.Get(ctx, h.dropletID)
	if err != nil {
		return nil, err
	}
	ip, err := d.PublicIPv4()
	if err != nil || ip == "" {
		return nil, fmt.Errorf("droplet %d has no public IPv4 yet", h.dropletID)
	}
	cfg := &ssh.ClientConfig{
		User:            h.backend.sshUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(h.backend.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	return ssh.Dial("tcp", net.JoinHostPort(ip, "22"), cfg)
}

// Run opens a fresh SSH session per invocation (a droplet has no
// long-lived attach primitive) and executes argv with env exported
// ahead of the command, matching the controller's "synchronous,
// returns exit code" contract.
func (h *handle) Run(ctx context.Context, argv []string, opts provider.RunOptions) (int, error) {
	client, err := h.dial(ctx)
	if err != nil {
		return -1, provider.RunnerRunFailed(err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return -1, provider.RunnerRunFailed(err)
	}
	defer session.Close()

	env := opts.Env
	if env == nil {
		env = provider.DefaultEnv()
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = "/"
	}

	var cmd bytes.Buffer
	fmt.Fprintf(&cmd, "cd %s && ", shellQuote(cwd))
	for k, v := range env {
		fmt.Fprintf(&cmd, "%s=%s ", k, shellQuote(v))
	}
	for _, a := range argv {
		fmt.Fprintf(&cmd, "%s ", shellQuote(a))
	}

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out
	err = session.Run(cmd.String())
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return exitErr.ExitStatus(), nil
	}
	return -1, provider.RunnerRunFailed(fmt.Errorf("ssh run: %w: %s", err, out.String()))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
