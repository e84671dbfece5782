package controller

import (
	"fmt"

	"github.com/octoling/octoling/internal/forge"
	"github.com/octoling/octoling/internal/metrics"
	"github.com/octoling/octoling/internal/provider"
)

type bootstrapStep struct {
	name string
	argv []string
	opts provider.RunOptions
}

// bootstrapSteps builds the fourteen-step sequence that turns a freshly
// started, empty container into a registered, ephemeral forge runner.
// Steps 1-11 run with the default options (cwd /); steps 12-14 run from
// /runner, where the agent tarball was extracted.
func bootstrapSteps(repoURL, token, runnerID, primaryLabel string) []bootstrapStep {
	root := provider.DefaultRunOptions()
	runnerDir := provider.RunOptions{Cwd: "/runner", Env: provider.DefaultEnv(), Wait: true}

	sudoersLine := "runner ALL=(ALL:ALL) NOPASSWD:ALL"
	sudoersCmd := fmt.Sprintf("echo '%s' >> /etc/sudoers", sudoersLine)

	configureCmd := []string{
		"sudo", "-u", "runner", "bash", "config.sh",
		"--unattended", "--ephemeral",
		"--url", repoURL,
		"--token", token,
		"--name", runnerID,
		"--labels", "octoling," + primaryLabel,
	}

	return []bootstrapStep{
		{name: metrics.StepAptUpdate, argv: []string{"apt-get", "update"}, opts: root},
		{name: metrics.StepAptInstall, argv: []string{"apt-get", "install", "-y", "curl", "tar", "gzip", "sudo"}, opts: root},
		{name: metrics.StepDockerDownload, argv: []string{"curl", "https://get.docker.com/", "-o", "install_docker.sh"}, opts: root},
		{name: metrics.StepDockerInstall, argv: []string{"sh", "install_docker.sh", "install", "runner"}, opts: root},
		{name: metrics.StepRunnerDownload, argv: []string{"curl", "-L", forge.RunnerTarballURL, "-o", "runner.tar.gz"}, opts: root},
		{name: metrics.StepUseradd, argv: []string{"useradd", "-m", "runner"}, opts: root},
		{name: metrics.StepSudoers, argv: []string{"bash", "-c", sudoersCmd}, opts: root},
		{name: metrics.StepUsermod, argv: []string{"usermod", "-a", "-G", "docker", "runner"}, opts: root},
		{name: metrics.StepMkdir, argv: []string{"mkdir", "/runner"}, opts: root},
		{name: metrics.StepChown, argv: []string{"chown", "runner:runner", "/runner"}, opts: root},
		{name: metrics.StepUntar, argv: []string{"sudo", "-u", "runner", "tar", "xzf", "runner.tar.gz", "-C", "/runner"}, opts: root},
		{name: metrics.StepConfigure, argv: configureCmd, opts: runnerDir},
		{name: metrics.StepSvcInstall, argv: []string{"bash", "svc.sh", "install", "runner"}, opts: runnerDir},
		{name: metrics.StepSvcStart, argv: []string{"bash", "svc.sh", "start"}, opts: runnerDir},
	}
}
