package provider

// tier — один размер инстанса с потолками по памяти и CPU.
type tier struct {
	InstanceType string
	MemoryMB     int
	CPUs         int
}

// Фиксированная таблица тиров t3, от меньшего к большему.
var tiers = []tier{
	{InstanceType: "t3.micro", MemoryMB: 1024, CPUs: 2},
	{InstanceType: "t3.small", MemoryMB: 2048, CPUs: 2},
	{InstanceType: "t3.medium", MemoryMB: 4096, CPUs: 2},
	{InstanceType: "t3.large", MemoryMB: 8192, CPUs: 2},
	{InstanceType: "t3.xlarge", MemoryMB: 16384, CPUs: 4},
	{InstanceType: "t3.2xlarge", MemoryMB: 32768, CPUs: 8},
}

// DefaultInstanceType используется при отсутствии hints и override.
const DefaultInstanceType = "t3.small"

// PickInstanceType подбирает тип инстанса для LaunchSpec.
//
// Явный override минует таблицу. Иначе берётся наименьший тир,
// потолки которого вмещают и память, и CPU; при расхождении hints
// по тирам это даёт больший из двух. Запрос крупнее последнего тира
// получает последний тир.
func PickInstanceType(spec LaunchSpec) string {
	if spec.InstanceType != "" {
		return spec.InstanceType
	}
	if spec.MemoryMB <= 0 && spec.CPUs <= 0 {
		return DefaultInstanceType
	}

	for _, t := range tiers {
		if spec.MemoryMB <= t.MemoryMB && spec.CPUs <= t.CPUs {
			return t.InstanceType
		}
	}
	return tiers[len(tiers)-1].InstanceType
}
