package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sonic-net/lom-engine/internal/config"
)

func writeFile(dir, name, content string) {
	Expect(os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)).To(Succeed())
}

var _ = Describe("Load", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "lom-config")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Context("with a complete, valid config directory", func() {
		BeforeEach(func() {
			writeFile(dir, "actions.conf.json", `{
				"detect-link-crc": {"mitigation_timeout_seconds": 60},
				"reset-link": {"timeout_seconds": 10, "mandatory": true}
			}`)
			writeFile(dir, "bindings.conf.json", `{
				"detect-link-crc": {"1": "reset-link", "0": "isolate-link"}
			}`)
			writeFile(dir, "procs.conf.json", `{"linkmgrd": {}, "swss": {}}`)
			writeFile(dir, "lom.rc.json", `{"HEARTBEAT_INTERVAL": 10}`)
		})

		It("loads and normalizes every record", func() {
			cfg, err := config.Load(dir)
			Expect(err).NotTo(HaveOccurred())

			Expect(cfg.Actions["detect-link-crc"].TimeoutSeconds).To(Equal(60))
			Expect(cfg.Actions["detect-link-crc"].MitigationTimeoutSeconds).To(Equal(60))
			Expect(cfg.Actions["reset-link"].TimeoutSeconds).To(Equal(10))
			Expect(cfg.Actions["reset-link"].Mandatory).To(BeTrue())

			Expect(cfg.Bindings["detect-link-crc"]).To(Equal([]string{"isolate-link", "reset-link"}))
			Expect(cfg.IsAnomaly("detect-link-crc")).To(BeTrue())
			Expect(cfg.IsAnomaly("reset-link")).To(BeFalse())

			Expect(cfg.Clients).To(ContainElements("linkmgrd", "swss"))
			Expect(cfg.Globals.HeartbeatInterval.Seconds()).To(Equal(10.0))
		})
	})

	Context("when timeout_seconds exceeds the clamp", func() {
		BeforeEach(func() {
			writeFile(dir, "actions.conf.json", `{"reset-link": {"timeout_seconds": 9000}}`)
			writeFile(dir, "bindings.conf.json", `{"detect-link-crc": {"0": "reset-link"}}`)
			writeFile(dir, "procs.conf.json", `{"linkmgrd": {}}`)
			writeFile(dir, "lom.rc.json", `{}`)
		})

		It("clamps to 300 seconds", func() {
			cfg, err := config.Load(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Actions["reset-link"].TimeoutSeconds).To(Equal(300))
		})
	})

	Context("when a file is missing", func() {
		BeforeEach(func() {
			writeFile(dir, "bindings.conf.json", `{}`)
			writeFile(dir, "procs.conf.json", `{"linkmgrd": {}}`)
			writeFile(dir, "lom.rc.json", `{}`)
		})

		It("fails with a configuration error", func() {
			_, err := config.Load(dir)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when a file is empty", func() {
		BeforeEach(func() {
			writeFile(dir, "actions.conf.json", "")
			writeFile(dir, "bindings.conf.json", `{}`)
			writeFile(dir, "procs.conf.json", `{"linkmgrd": {}}`)
			writeFile(dir, "lom.rc.json", `{}`)
		})

		It("fails as a fatal configuration error", func() {
			_, err := config.Load(dir)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("client allow-list ordering", func() {
		BeforeEach(func() {
			writeFile(dir, "actions.conf.json", `{"reset-link": {}}`)
			writeFile(dir, "bindings.conf.json", `{"detect-link-crc": {"0": "reset-link"}}`)
			writeFile(dir, "procs.conf.json", `{"zzz": {}, "aaa": {}, "mmm": {}}`)
			writeFile(dir, "lom.rc.json", `{}`)
		})

		It("preserves declaration order, not sorted order", func() {
			cfg, err := config.Load(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Clients).To(Equal(config.ClientAllowList{"zzz", "aaa", "mmm"}))
		})
	})
})

var _ = Describe("ResolveConfigPath", func() {
	It("defaults when LOM_CONFIG_PATH is unset", func() {
		os.Unsetenv("LOM_CONFIG_PATH")
		Expect(config.ResolveConfigPath()).To(Equal(config.DefaultConfigPath))
	})

	It("honors LOM_CONFIG_PATH", func() {
		os.Setenv("LOM_CONFIG_PATH", "/custom/path")
		defer os.Unsetenv("LOM_CONFIG_PATH")
		Expect(config.ResolveConfigPath()).To(Equal("/custom/path"))
	})
})
