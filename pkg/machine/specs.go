package machine

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/spf13/afero"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
)

type OS struct {
	Type     string `json:"type"`
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	Release  string `json:"release"`
}

// Specs is the machine specification document sent to the coordinator
// when the machine registers.
type Specs struct {
	Address   string   `json:"address"`
	Hostname  string   `json:"hostname"`
	OS        OS       `json:"os"`
	CPUs      []string `json:"cpus"`
	Mem       string   `json:"mem"`
	GPUs      []string `json:"gpus"`
	MachineID string   `json:"machine_id,omitempty"`
}

// Discover inspects the host. The address is the URL at which the
// coordinator reaches this machine.
func Discover(address string) *Specs {
	specs := &Specs{
		Address: address,
		OS: OS{
			Type:     osType(),
			Platform: runtime.GOOS,
			Arch:     runtime.GOARCH,
			Release:  osRelease(),
		},
		CPUs: cpuModels(afero.NewOsFs()),
		Mem:  utils.HumanByteSize(totalMemory()),
		GPUs: gpuModels(),
	}

	if hostname, err := os.Hostname(); err == nil {
		specs.Hostname = hostname
	}

	if id, err := machineid.ProtectedID("fgmachine"); err == nil {
		specs.MachineID = id
	} else {
		log.Debug("Machine id unavailable:", err)
	}

	return specs
}

func (s *Specs) Log() {
	log.Info("Machine specification:")
	log.Infof("  hostname = %s", s.Hostname)
	log.Infof("  os = %s %s %s", s.OS.Type, s.OS.Release, s.OS.Arch)
	log.Infof("  cpus = %d", len(s.CPUs))
	log.Infof("  mem = %s", s.Mem)
	for _, gpu := range s.GPUs {
		log.Infof("  gpu = %s", gpu)
	}
}

// cpuModels returns one model name per logical CPU.
func cpuModels(fs utils.Fs) []string {
	models := []string{}

	if file, err := fs.Open("/proc/cpuinfo"); err == nil {
		defer file.Close()
		models = ParseCpuInfo(file)
	}

	if len(models) == 0 {
		for i := 0; i < runtime.NumCPU(); i++ {
			models = append(models, runtime.GOARCH)
		}
	}
	return models
}

// ParseCpuInfo extracts the model name of every processor listed in
// the contents of /proc/cpuinfo.
func ParseCpuInfo(file io.Reader) []string {
	models := []string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "model name" {
			models = append(models, strings.TrimSpace(value))
		}
	}
	return models
}

func gpuModels() []string {
	if runtime.GOOS != "linux" {
		return []string{}
	}

	path, err := exec.LookPath("lspci")
	if err != nil {
		log.Debug("lspci not found, no GPUs listed")
		return []string{}
	}

	output, err := exec.Command(path).Output()
	if err != nil {
		log.Debug("lspci failed:", err)
		return []string{}
	}

	return ParseLspci(string(output))
}

var controllerRe = regexp.MustCompile(`.*controller: `)

// ParseLspci returns the VGA devices listed in lspci output.
func ParseLspci(output string) []string {
	gpus := []string{}
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(strings.ToLower(line), "vga") {
			continue
		}
		gpus = append(gpus, controllerRe.ReplaceAllString(line, ""))
	}
	return gpus
}
