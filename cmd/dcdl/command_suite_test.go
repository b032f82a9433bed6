package main

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/internal/testutils"
	"github.com/srg/dcdl/pkg/config"
)

// CommandTestSuite extends MockRadioSuite with command testing utilities.
// Every test runs against a fake engine and the suite's mock central.
type CommandTestSuite struct {
	testutils.MockRadioSuite

	Engine libdc.Engine

	originalEngineFactory  func(*config.Config, *logrus.Logger) (libdc.Engine, error)
	originalCentralFactory func(*logrus.Logger) device.CentralFactory
	originalPortLister     func() ([]string, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.MockRadioSuite.SetupTest()

	s.originalEngineFactory = EngineFactory
	s.originalCentralFactory = CentralFactory
	s.originalPortLister = PortLister

	s.Engine = &testutils.FakeEngine{}
	EngineFactory = func(*config.Config, *logrus.Logger) (libdc.Engine, error) {
		return s.Engine, nil
	}
	CentralFactory = func(*logrus.Logger) device.CentralFactory {
		return s.Central.Factory()
	}
	PortLister = nil
}

func (s *CommandTestSuite) TearDownTest() {
	EngineFactory = s.originalEngineFactory
	CentralFactory = s.originalCentralFactory
	PortLister = s.originalPortLister
	s.MockRadioSuite.TearDownTest()
}

// FakeEngine returns the suite engine as a FakeEngine.
func (s *CommandTestSuite) FakeEngine() *testutils.FakeEngine {
	e, ok := s.Engine.(*testutils.FakeEngine)
	s.Require().True(ok, "suite engine MUST be a FakeEngine")
	return e
}

// WithoutEngine makes the next command run as a build without libdivecomputer.
func (s *CommandTestSuite) WithoutEngine() {
	s.Engine = nil
	EngineFactory = func(*config.Config, *logrus.Logger) (libdc.Engine, error) {
		return nil, nil
	}
}

// ExecuteCommand runs the root command with fresh flags and args and returns
// stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// resetFlags restores every flag of cmd and its children to its default so
// package-level flag variables do not leak between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
