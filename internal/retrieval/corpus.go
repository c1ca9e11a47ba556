package retrieval

import "github.com/triage-intake-server/internal/domain"

// guidanceCorpus is the built-in triage guidance library. Chunks are small on
// purpose: each holds one line of questioning so the follow-up generator can
// be grounded in a single excerpt.
var guidanceCorpus = []domain.GuidanceChunk{
	{
		ChunkID:     "chest-001",
		SourceTitle: "Chest pain assessment",
		Content: "For chest pain, establish character (crushing, sharp, burning), whether it radiates " +
			"to the arm, neck or jaw, and any association with exertion, breathlessness, sweating or nausea.",
	},
	{
		ChunkID:     "chest-002",
		SourceTitle: "Chest pain history",
		Content: "Ask about cardiac risk factors: previous heart disease, hypertension, diabetes, " +
			"smoking and family history of early cardiac events.",
	},
	{
		ChunkID:     "breath-001",
		SourceTitle: "Breathlessness assessment",
		Content: "For shortness of breath, establish speed of onset, whether it occurs at rest or on " +
			"exertion, any wheeze, cough, fever or chest pain, and a history of asthma or COPD.",
	},
	{
		ChunkID:     "breath-002",
		SourceTitle: "Breathlessness red flags",
		Content: "Ask whether the patient can complete sentences, any blue discolouration of lips, " +
			"coughing up blood, or recent long travel and calf swelling suggesting embolism.",
	},
	{
		ChunkID:     "abdo-001",
		SourceTitle: "Abdominal pain assessment",
		Content: "For abdominal pain, establish site, radiation, relationship to food, bowel habit " +
			"changes, nausea, vomiting and urinary symptoms.",
	},
	{
		ChunkID:     "abdo-002",
		SourceTitle: "Abdominal pain red flags",
		Content: "Ask about vomiting blood, black or bloody stools, a rigid abdomen, fever, and in " +
			"women of childbearing age whether pregnancy is possible.",
	},
	{
		ChunkID:     "headache-001",
		SourceTitle: "Headache assessment",
		Content: "For headache, establish speed of onset, whether this is the worst headache ever, " +
			"any visual aura, nausea, photophobia or a pattern of similar previous headaches.",
	},
	{
		ChunkID:     "headache-002",
		SourceTitle: "Headache red flags",
		Content: "Ask about neck stiffness, rash, fever, new weakness or numbness, speech difficulty, " +
			"recent head injury and whether the headache wakes the patient from sleep.",
	},
	{
		ChunkID:     "fever-001",
		SourceTitle: "Fever assessment",
		Content: "For fever, establish duration, measured temperature, localising symptoms such as " +
			"cough, urinary symptoms or skin changes, and recent foreign travel.",
	},
	{
		ChunkID:     "fever-002",
		SourceTitle: "Fever red flags",
		Content: "Ask about non-blanching rash, neck stiffness, confusion, persistent vomiting, and " +
			"whether the patient is immunocompromised or on chemotherapy.",
	},
	{
		ChunkID:     "general-001",
		SourceTitle: "General symptom review",
		Content: "For any complaint, establish effect on eating and drinking, mobility and sleep, " +
			"current medications and relevant medical history.",
	},
}
