package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"memstruct/process"
	"memstruct/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "process_memory_map.json"
)

// ProcessDump implements process.Process over a set of captured regions.
// Writes modify the local copy only.
type ProcessDump struct {
	PID       process.ProcessID
	Name      string
	MemoryMap []memory_map.MemoryMapItem
	Blobs     map[uint64][]byte // Address -> Data

	mu sync.RWMutex
}

var _ process.Process = (*ProcessDump)(nil)

type dumpMetadata struct {
	PID  process.ProcessID `json:"pid"`
	Name string            `json:"name"`
}

// NewProcessDump creates a new ProcessDump instance
func NewProcessDump() *ProcessDump {
	return &ProcessDump{
		Blobs: make(map[uint64][]byte),
	}
}

// Map adds a region holding data at addr. perms uses the /proc maps
// notation ("rw-p"); an empty string means read/write.
func (p *ProcessDump) Map(addr process.ProcessMemoryAddress, data []byte, perms string) {
	if perms == "" {
		perms = "rw-p"
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Blobs == nil {
		p.Blobs = make(map[uint64][]byte)
	}
	p.MemoryMap = append(p.MemoryMap, memory_map.MemoryMapItem{
		Address: uint64(addr),
		Size:    uint(len(data)),
		Perms:   perms,
	})
	memory_map.Sort(p.MemoryMap)
	p.Blobs[uint64(addr)] = data
}

func (p *ProcessDump) Open(pid process.ProcessID) error {
	return fmt.Errorf("Open not supported for ProcessDump, use Load")
}

func (p *ProcessDump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Blobs = nil
	p.MemoryMap = nil
	return nil
}

func (p *ProcessDump) GetPID() process.ProcessID {
	return p.PID
}

func (p *ProcessDump) UpdateMemoryMap() error {
	return nil // Memory map is static in a dump
}

func (p *ProcessDump) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return memory_map.IsValidAddress(uint64(addr), p.MemoryMap)
}

func (p *ProcessDump) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]memory_map.MemoryMapItem, len(p.MemoryMap))
	copy(result, p.MemoryMap)
	return result, nil
}

func (p *ProcessDump) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, offset, err := p.locate(addr, size, false)
	if err != nil {
		return nil, process.ReadFault(addr, size, err)
	}

	result := make([]byte, size)
	copy(result, data[offset:offset+uint64(size)])
	return result, nil
}

func (p *ProcessDump) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	size := process.ProcessMemorySize(len(data))

	p.mu.Lock()
	defer p.mu.Unlock()

	blob, offset, err := p.locate(addr, size, true)
	if err != nil {
		return process.WriteFault(addr, size, err)
	}
	copy(blob[offset:], data)
	return nil
}

// locate finds the captured bytes backing [addr, addr+size).
// The caller holds p.mu.
func (p *ProcessDump) locate(addr process.ProcessMemoryAddress, size process.ProcessMemorySize, write bool) ([]byte, uint64, error) {
	region := memory_map.Find(uint64(addr), p.MemoryMap)
	if region == nil {
		return nil, 0, process.ErrAddressNotMapped
	}
	if write && !region.IsWritable() {
		return nil, 0, process.ErrNotWritable
	}
	if !write && !region.IsReadable() {
		return nil, 0, fmt.Errorf("region 0x%x is not readable", region.Address)
	}

	data, ok := p.Blobs[region.Address]
	if !ok {
		return nil, 0, fmt.Errorf("no data for region 0x%x", region.Address)
	}

	offset := uint64(addr) - region.Address
	if offset+uint64(size) > uint64(len(data)) {
		return nil, 0, fmt.Errorf("access of %d bytes at 0x%x exceeds region data bounds", size, uint64(addr))
	}
	return data, offset, nil
}

// Save writes the dump as metadata.json, process_memory_map.json and one
// blob_0x<addr>_<size>.bin file per captured region.
func (p *ProcessDump) Save(dirname string) error {
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	metadataJSON, err := json.MarshalIndent(dumpMetadata{PID: p.PID, Name: p.Name}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, metadataFile), metadataJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	memoryMapJSON, err := json.MarshalIndent(p.MemoryMap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal memory map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, memoryMapFile), memoryMapJSON, 0644); err != nil {
		return fmt.Errorf("failed to write memory map file: %w", err)
	}

	for _, region := range p.MemoryMap {
		data, ok := p.Blobs[region.Address]
		if !ok {
			continue
		}
		if err := os.WriteFile(blobPath(dirname, region), data, 0644); err != nil {
			return fmt.Errorf("failed to write blob for region 0x%x: %w", region.Address, err)
		}
	}
	return nil
}

func (p *ProcessDump) Load(dirname string) error {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata dumpMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	var mm []memory_map.MemoryMapItem
	if err := json.Unmarshal(mmBytes, &mm); err != nil {
		return fmt.Errorf("failed to unmarshal memory map: %w", err)
	}
	memory_map.Sort(mm)

	blobs := make(map[uint64][]byte)
	for _, region := range mm {
		filename := blobPath(dirname, region)
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			continue // Blob not saved (e.g. too large or not readable)
		}

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read blob %s: %w", filename, err)
		}
		blobs[region.Address] = data
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.PID = metadata.PID
	p.Name = metadata.Name
	p.MemoryMap = mm
	p.Blobs = blobs
	return nil
}

func blobPath(dirname string, region memory_map.MemoryMapItem) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size))
}

// Capture copies every readable region of proc no larger than maxRegion
// bytes into a new ProcessDump. Regions that fail to read are skipped.
func Capture(proc process.Process, name string, maxRegion uint) (*ProcessDump, error) {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("capture-%d", proc.GetPID())))

	if err := proc.UpdateMemoryMap(); err != nil {
		return nil, fmt.Errorf("failed to update memory map: %w", err)
	}
	mm, err := proc.GetMemoryMap()
	if err != nil {
		return nil, err
	}

	dump := NewProcessDump()
	dump.PID = proc.GetPID()
	dump.Name = name

	saved, skipped := 0, 0
	for _, region := range mm {
		if !region.IsReadable() || (maxRegion > 0 && region.Size > maxRegion) {
			skipped++
			continue
		}
		data, err := proc.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), err)
			skipped++
			continue
		}
		dump.Map(process.ProcessMemoryAddress(region.Address), data, region.Perms)
		saved++
	}

	log.Infoln("Capture complete:", saved, "regions saved,", skipped, "skipped")
	return dump, nil
}
