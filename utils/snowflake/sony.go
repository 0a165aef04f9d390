package snowflake

import (
	"hash/fnv"

	"github.com/pkg/errors"
	"github.com/sony/sonyflake"
)

// SonyGenerator hands out ids from a sonyflake whose machine id is derived
// from a name, so endpoints need no node id configuration.
type SonyGenerator struct {
	sf *sonyflake.Sonyflake
}

func MachineID(name string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return uint16(h.Sum32())
}

func NewSonyGenerator(name string) (*SonyGenerator, error) {
	id := MachineID(name)
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		MachineID: func() (uint16, error) {
			return id, nil
		},
	})
	if sf == nil {
		return nil, errors.Errorf("sonyflake: cannot create generator for %q", name)
	}
	return &SonyGenerator{sf: sf}, nil
}

func (g *SonyGenerator) GetID() (int64, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return 0, errors.Wrap(err, "sonyflake")
	}
	return int64(id), nil
}
