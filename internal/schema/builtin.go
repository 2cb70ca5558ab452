package schema

// builtinCatalogue covers the common HVAC device types so the engine works
// out of the box. Site-specific catalogues are loaded from YAML instead.
func builtinCatalogue() Catalogue {
	return Catalogue{Devices: []DeviceSchema{
		{
			DeviceType: "AHU",
			Points: []PointDef{
				{Suffix: "temp_sat", Category: "temperature", Unit: "degC", Description: "Supply air temperature"},
				{Suffix: "temp_rat", Category: "temperature", Unit: "degC", Description: "Return air temperature"},
				{Suffix: "temp_mat", Category: "temperature", Unit: "degC", Description: "Mixed air temperature"},
				{Suffix: "temp_oat", Category: "temperature", Unit: "degC", Description: "Outdoor air temperature"},
				{Suffix: "humidity_ra", Category: "humidity", Unit: "%", Description: "Return air humidity"},
				{Suffix: "humidity_sa", Category: "humidity", Unit: "%", Description: "Supply air humidity"},
				{Suffix: "sp_temp", Category: "setpoint", Unit: "degC", Description: "Temperature setpoint"},
				{Suffix: "sp_pressure", Category: "setpoint", Unit: "Pa", Description: "Static pressure setpoint"},
				{Suffix: "status_fan", Category: "status", Description: "Supply fan status"},
				{Suffix: "status_run", Category: "status", Description: "Unit run status"},
				{Suffix: "speed_fan", Category: "speed", Unit: "%", Description: "Fan speed"},
				{Suffix: "pressure_sup", Category: "pressure", Unit: "Pa", Description: "Supply static pressure"},
				{Suffix: "flow_sa", Category: "flow", Unit: "m3/h", Description: "Supply airflow"},
				{Suffix: "valve_chw", Category: "position", Unit: "%", Description: "Chilled water valve position"},
				{Suffix: "damper_oa", Category: "position", Unit: "%", Description: "Outdoor air damper position"},
				{Suffix: "alarm_fault", Category: "alarm", Description: "General fault alarm"},
				{Suffix: "co2_ra", Category: "concentration", Unit: "ppm", Description: "Return air CO2"},
			},
		},
		{
			DeviceType: "FCU",
			Points: []PointDef{
				{Suffix: "temp_space", Category: "temperature", Unit: "degC", Description: "Space temperature"},
				{Suffix: "sp_temp", Category: "setpoint", Unit: "degC", Description: "Space temperature setpoint"},
				{Suffix: "status_fan", Category: "status", Description: "Fan status"},
				{Suffix: "speed_fan", Category: "speed", Unit: "%", Description: "Fan speed"},
				{Suffix: "valve_chw", Category: "position", Unit: "%", Description: "Chilled water valve position"},
				{Suffix: "valve_hw", Category: "position", Unit: "%", Description: "Hot water valve position"},
				{Suffix: "mode_occ", Category: "status", Description: "Occupancy mode"},
			},
		},
		{
			DeviceType: "CH",
			Points: []PointDef{
				{Suffix: "temp_chws", Category: "temperature", Unit: "degC", Description: "Chilled water supply temperature"},
				{Suffix: "temp_chwr", Category: "temperature", Unit: "degC", Description: "Chilled water return temperature"},
				{Suffix: "temp_cws", Category: "temperature", Unit: "degC", Description: "Condenser water supply temperature"},
				{Suffix: "temp_cwr", Category: "temperature", Unit: "degC", Description: "Condenser water return temperature"},
				{Suffix: "status_run", Category: "status", Description: "Chiller run status"},
				{Suffix: "power_active", Category: "power", Unit: "kW", Description: "Active power"},
				{Suffix: "energy_cum", Category: "energy", Unit: "kWh", Description: "Cumulative energy"},
				{Suffix: "flow_chw", Category: "flow", Unit: "m3/h", Description: "Chilled water flow"},
				{Suffix: "load_pct", Category: "load", Unit: "%", Description: "Percent load"},
				{Suffix: "alarm_fault", Category: "alarm", Description: "General fault alarm"},
				{Suffix: "sp_chws", Category: "setpoint", Unit: "degC", Description: "Chilled water supply setpoint"},
			},
		},
		{
			DeviceType: "CT",
			Points: []PointDef{
				{Suffix: "temp_ent", Category: "temperature", Unit: "degC", Description: "Entering water temperature"},
				{Suffix: "temp_lvg", Category: "temperature", Unit: "degC", Description: "Leaving water temperature"},
				{Suffix: "status_fan", Category: "status", Description: "Fan status"},
				{Suffix: "speed_fan", Category: "speed", Unit: "%", Description: "Fan speed"},
				{Suffix: "status_run", Category: "status", Description: "Run status"},
				{Suffix: "alarm_fault", Category: "alarm", Description: "General fault alarm"},
			},
		},
		{
			DeviceType: "PUMP",
			Points: []PointDef{
				{Suffix: "status_run", Category: "status", Description: "Run status"},
				{Suffix: "speed_pct", Category: "speed", Unit: "%", Description: "Speed percentage"},
				{Suffix: "pressure_dis", Category: "pressure", Unit: "kPa", Description: "Discharge pressure"},
				{Suffix: "flow_water", Category: "flow", Unit: "m3/h", Description: "Water flow"},
				{Suffix: "power_active", Category: "power", Unit: "kW", Description: "Active power"},
				{Suffix: "alarm_fault", Category: "alarm", Description: "General fault alarm"},
			},
		},
		{
			DeviceType: "METER",
			Points: []PointDef{
				{Suffix: "power_active", Category: "power", Unit: "kW", Description: "Active power"},
				{Suffix: "power_reactive", Category: "power", Unit: "kVar", Description: "Reactive power"},
				{Suffix: "energy_cum", Category: "energy", Unit: "kWh", Description: "Cumulative energy"},
				{Suffix: "current_a", Category: "electrical", Unit: "A", Description: "Phase A current"},
				{Suffix: "voltage_a", Category: "electrical", Unit: "V", Description: "Phase A voltage"},
			},
		},
	}}
}
