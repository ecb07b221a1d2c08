package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/examai/backend/internal/core/image"
	"github.com/examai/backend/internal/shell/docker"
)

// profileFlags selects the build profile for the image commands.
type profileFlags struct {
	name string
	file string
}

func (f *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "profile", image.ProfileGo,
		"Built-in profile ("+strings.Join(image.BuiltinProfiles(), ", ")+")")
	cmd.Flags().StringVar(&f.file, "profile-file", "", "YAML profile; overrides --profile")
}

// plan loads the selected profile and turns it into a build plan.
func (f *profileFlags) plan() (*image.Plan, error) {
	var (
		p   image.Profile
		err error
	)
	if f.file != "" {
		fh, openErr := os.Open(f.file)
		if openErr != nil {
			return nil, openErr
		}
		defer fh.Close()
		p, err = image.LoadProfile(fh)
	} else {
		p, err = image.BuiltinProfile(f.name)
	}
	if err != nil {
		return nil, err
	}
	return image.NewPlan(p)
}

func (a *app) imageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Build, push and smoke-test the container image",
	}
	cmd.AddCommand(
		a.imageDockerfileCommand(),
		a.imageBuildCommand(),
		a.imagePushCommand(),
		a.imageSmokeCommand(),
	)
	return cmd
}

func (a *app) imageDockerfileCommand() *cobra.Command {
	var pf profileFlags
	cmd := &cobra.Command{
		Use:   "dockerfile",
		Short: "Print the Dockerfile generated from a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := pf.plan()
			if err != nil {
				return &ServerError{Op: "Plan", Err: err, ExitCode: ExitBuildError}
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), plan.Dockerfile())
			return err
		},
	}
	pf.register(cmd)
	return cmd
}

func (a *app) imageBuildCommand() *cobra.Command {
	var (
		pf   profileFlags
		opts docker.BuildOptions
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the image from an application tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := pf.plan()
			if err != nil {
				return &ServerError{Op: "Plan", Err: err, ExitCode: ExitBuildError}
			}

			cli, err := a.dockerClient(cmd)
			if err != nil {
				return err
			}
			defer cli.Close()

			opts.Output = cmd.ErrOrStderr()
			result, err := cli.BuildImage(cmd.Context(), plan, opts)
			if err != nil {
				return &ServerError{Op: "BuildImage", Err: err, ExitCode: ExitBuildError}
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.ImageID)
			return nil
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVar(&opts.ContextDir, "context", ".", "Application tree to build")
	cmd.Flags().StringArrayVarP(&opts.Tags, "tag", "t", nil, "Image reference (repeatable)")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "Do not use the layer cache")
	cmd.Flags().BoolVar(&opts.Pull, "pull", false, "Always pull the base image")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "Target platform, e.g. linux/amd64")
	return cmd
}

func (a *app) imagePushCommand() *cobra.Command {
	var opts docker.PushOptions
	cmd := &cobra.Command{
		Use:   "push REF",
		Short: "Push a built image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := a.dockerClient(cmd)
			if err != nil {
				return err
			}
			defer cli.Close()

			opts.Output = cmd.ErrOrStderr()
			if err := cli.PushImage(cmd.Context(), args[0], opts); err != nil {
				return &ServerError{Op: "PushImage", Err: err, ExitCode: ExitDockerError}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", os.Getenv("REGISTRY_USERNAME"), "Registry user")
	cmd.Flags().StringVar(&opts.Password, "password", os.Getenv("REGISTRY_PASSWORD"), "Registry password")
	cmd.Flags().StringVar(&opts.ServerAddress, "registry", "", "Registry address")
	return cmd
}

func (a *app) imageSmokeCommand() *cobra.Command {
	var (
		opts docker.SmokeOptions
		env  []string
	)
	cmd := &cobra.Command{
		Use:   "smoke IMAGE",
		Short: "Run the image with PORT set and wait for it to listen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Image = args[0]
			opts.Env = map[string]string{}
			for _, kv := range env {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return &ServerError{Op: "Smoke", Err: fmt.Errorf("--env %q is not KEY=VALUE", kv), ExitCode: ExitConfigError}
				}
				opts.Env[k] = v
			}

			cli, err := a.dockerClient(cmd)
			if err != nil {
				return err
			}
			defer cli.Close()

			result, err := cli.Smoke(cmd.Context(), opts)
			if err != nil {
				return &ServerError{Op: "Smoke", Err: err, ExitCode: ExitDockerError}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listening on 127.0.0.1:%d after %s\n",
				result.HostPort, result.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Port, "port", image.DefaultPort, "Value given to the container as PORT")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 60*time.Second, "Wait for the first connection")
	cmd.Flags().StringVar(&opts.HealthPath, "health-path", "", "Path that must answer GET below 500")
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "Extra KEY=VALUE (repeatable)")
	return cmd
}

func (a *app) dockerClient(cmd *cobra.Command) (docker.Client, error) {
	cli, err := docker.NewDockerClient(cmd.Context(), a.config.Docker.Host, a.logger)
	if err != nil {
		return nil, &ServerError{Op: "NewDockerClient", Err: err, ExitCode: ExitDockerError}
	}
	if err := cli.Ping(cmd.Context()); err != nil {
		cli.Close()
		return nil, &ServerError{Op: "NewDockerClient", Err: err, ExitCode: ExitDockerError}
	}
	return cli, nil
}
