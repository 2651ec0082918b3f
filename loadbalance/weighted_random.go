package loadbalance

import (
	"fmt"
	"math/rand/v2"

	"github.com/tixel/tryorama/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its Weight. Instances without a positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ConductorInstance) (*registry.ConductorInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no conductor instances available")
	}

	// 计算总权重
	totalWeight := 0
	for _, v := range instances {
		totalWeight += weightOf(v)
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.IntN(totalWeight)
	for i := range instances {
		r -= weightOf(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weightOf(inst registry.ConductorInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
