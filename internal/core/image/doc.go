// Package image provides pure functions for planning container image builds.
//
// A build is described by a Profile (base image, dependency manifest, install
// commands, source tree, environment, package markers, port and command). The
// profile is turned into a Plan, an ordered list of typed Steps, which can be
// validated and rendered as a Dockerfile.
//
// # Ordering
//
// Steps carry a rank and a valid plan never decreases in rank:
//
//	FROM < WORKDIR < manifest copy < install < source copy < compile <
//	ENV < package markers < EXPOSE < CMD
//
// Installing dependencies before copying the application tree keeps the
// dependency layers cached when only code changes.
//
// # Usage
//
// The imperative shell (internal/shell/docker) sends the rendered Dockerfile
// to the daemon together with the build context.
//
//	plan, err := image.NewPlan(image.PythonASGI())
//	dockerfile := plan.Dockerfile()
package image
