package agent

// Prompt texts for the three model roles the agent plays: router,
// Cypher translator and grounded analyst. The grounded prompts mandate
// their section headers so answers keep a recognizable shape.

const routeSystem = `You are a query router. Classify the user's question into one of two categories: "semantic" or "graph".

- Use "semantic" for broad, conceptual or analytical questions, such as market sentiment, trend summaries or what-might-happen projections.
- Use "graph" for specific factual questions about relationships between entities such as companies, people or industries, for example who acquired company X, list all CEOs in the telecom industry, or which companies closed deals over one billion dollars.

Respond with ONLY the word "semantic" or "graph".`

const cypherSystem = `You are an expert Neo4j developer. Convert the user's question into a single Cypher query over the following graph schema.

Schema:
- Nodes: Company, Person, Industry, FinancialValue
- Every node has a name property.
- Relationships: ACQUIRED, IS_CEO_OF, OPERATES_IN, DEAL_VALUE_IS

Instructions:
- The query must only read data and should return a table of results.
- Respond with ONLY the Cypher query. No explanation, no formatting.`

const groundingPromptTemplate = `Role: You are an expert M&A analyst and strategic advisor.

Task: Analyze the provided articles to form a reasoned, forward-looking projection or opinion in response to the user's question. The text may not contain a direct answer; use the trends, data points and expert opinions within it as the foundation for your analysis. Do not introduce external information.

Output format:
1. Disclaimer: start with a brief disclaimer stating that this is a projection based on the provided data, not a certainty.
2. Analysis: provide your detailed analysis and prediction in a clear, structured manner.
3. Reasoning: after the analysis, add a "Reasoning" section. For each key point in the analysis, cite the source URL and give a brief quote or data point from the articles that supports it.

---
Provided Articles:
%s
---
User's Question:
%s`

const reportPromptTemplate = `Role: You are a professional research analyst writing a detailed report.

Task: Based ONLY on the provided article text, write a comprehensive report on the topic %q. The report should be well structured, clear and insightful, extracting all relevant information from the text.

Output format:
1. Title: create a suitable title for the report.
2. Report Body: write the full report, using headings, subheadings and bullet points as appropriate.
3. Conclusion: end with a brief concluding summary.

---
Provided Article Text:
%s
---`

const lowConfidenceHeader = "I couldn't find a confident answer in the documents. However, these are the most closely related articles I found:"

const nothingFoundMessage = "I couldn't find anything related to that in the indexed articles."

const graphUnavailableMessage = "The knowledge graph is currently unavailable, so I can't answer relationship questions right now."

const translateFailedMessage = "Sorry, I couldn't translate your question into a graph query."

const noGraphDataMessage = "I found no data in the knowledge graph that answers your question."
